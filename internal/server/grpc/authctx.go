package grpcserver

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/metadata"
)

type ctxKey string

const tokenIDKey ctxKey = "ak.tokenID"

// WithTokenID stores the id of the verified control token in context.
func WithTokenID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tokenIDKey, id)
}

// TokenIDFromCtx fetches the control token id from context.
func TokenIDFromCtx(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tokenIDKey).(string)
	return id, ok
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
