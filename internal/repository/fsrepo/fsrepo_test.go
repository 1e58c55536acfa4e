package fsrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/model"
	"github.com/and161185/agent-keeper/internal/session"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return r
}

func backupFor(email string) *model.BackupFile {
	blob := session.EncodeString(&session.Record{Context: &session.Context{Email: email}})
	status := `{"email":"` + email + `"}`
	return model.NewBackupFile(model.Snapshot{SessionState: blob, AuthStatus: &status}, time.Now())
}

func TestSaveGet_RoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	f := backupFor("alice@example.com")
	f.Extra = map[string]json.RawMessage{"customKey": json.RawMessage(`{"kept":true}`)}
	require.NoError(t, r.Save(ctx, "alice@example.com", f))

	got, err := r.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, f.SessionState, got.File.SessionState)
	require.Equal(t, *f.AuthStatus, *got.File.AuthStatus)
	require.JSONEq(t, `{"kept":true}`, string(got.File.Extra["customKey"]))
	require.Equal(t, "alice@example.com", got.Session.Email())
	require.Equal(t, model.BackupFormatVersion, got.File.BackupVersion)
}

func TestSave_OverwriteReplacesContent(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	first := backupFor("bob@example.com")
	first.Extra = map[string]json.RawMessage{"old": json.RawMessage(`1`)}
	require.NoError(t, r.Save(ctx, "bob@example.com", first))

	second := backupFor("bob@example.com")
	require.NoError(t, r.Save(ctx, "bob@example.com", second))

	got, err := r.Get(ctx, "bob@example.com")
	require.NoError(t, err)
	require.NotContains(t, got.File.Extra, "old")

	entries, err := os.ReadDir(r.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not remain")
}

func TestSave_ConcurrentDifferentIdentities(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		id := model.Identity(fmt.Sprintf("user%d@example.com", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.NoError(t, r.Save(ctx, id, backupFor(id.String())))
			}
		}()
	}
	wg.Wait()

	recs, skipped, err := r.List(ctx)
	require.NoError(t, err)
	require.Empty(t, skipped)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		require.Equal(t, rec.Identity.String(), rec.Session.Email())
	}
}

func TestUnsafeNamesRejected(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	for _, id := range []model.Identity{"", ".", "..", "../x", "a/b", `a\b`, "c:d", "sp ace", model.Identity(strings.Repeat("a", 256))} {
		require.ErrorIs(t, r.Save(ctx, id, backupFor("x@y.z")), errs.ErrUnsafeName, "id=%q", id)
		require.ErrorIs(t, r.Delete(ctx, id), errs.ErrUnsafeName, "id=%q", id)
	}
	entries, err := os.ReadDir(r.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestList_SkipsBadFilesAndSortsNewestFirst(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, "old@example.com", backupFor("old@example.com")))
	require.NoError(t, r.Save(ctx, "new@example.com", backupFor("new@example.com")))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(r.Dir(), "old@example.com.json"), past, past))

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(r.Dir(), name), []byte(content), 0o600))
	}
	write("broken@example.com.json", "{not json")
	write("nosession@example.com.json", `{"antigravityAuthStatus":"x"}`)
	write("badblob@example.com.json", `{"jetskiStateSync.agentManagerInitState":"!!!"}`)
	write(".tmp-123", "partial")
	write("notes.txt", "ignored")

	big := make([]byte, MaxFileSize+1)
	write("huge@example.com.json", string(big))

	recs, skipped, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, model.Identity("new@example.com"), recs[0].Identity)
	require.Equal(t, model.Identity("old@example.com"), recs[1].Identity)

	names := make([]string, 0, len(skipped))
	for _, s := range skipped {
		names = append(names, s.Name)
		require.NotEmpty(t, s.Reason)
	}
	require.ElementsMatch(t, []string{
		"broken@example.com.json",
		"nosession@example.com.json",
		"badblob@example.com.json",
		"huge@example.com.json",
	}, names)
}

func TestDeleteAndClearAll(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	require.ErrorIs(t, r.Delete(ctx, "ghost@example.com"), errs.ErrNotFound)
	_, err := r.Get(ctx, "ghost@example.com")
	require.ErrorIs(t, err, errs.ErrNotFound)

	for _, id := range []model.Identity{"a@x.io", "b@x.io", "c@x.io"} {
		require.NoError(t, r.Save(ctx, id, backupFor(id.String())))
	}
	require.NoError(t, r.Delete(ctx, "a@x.io"))

	n, failed, err := r.ClearAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Empty(t, failed)

	recs, _, err := r.List(ctx)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestClearAll_KeepsGoingPastUndeletableFile(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for _, id := range []model.Identity{"a@x.com", "b@x.com", "c@x.com"} {
		require.NoError(t, r.Save(ctx, id, backupFor(id.String())))
	}
	r.remove = func(name string) error {
		if filepath.Base(name) == "a@x.com.json" {
			return &os.PathError{Op: "remove", Path: name, Err: os.ErrPermission}
		}
		return os.Remove(name)
	}

	n, failed, err := r.ClearAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, failed, 1)
	require.Equal(t, "a@x.com.json", failed[0].Name)
	require.Equal(t, "remove: permission denied", failed[0].Reason)

	recs, _, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, model.Identity("a@x.com"), recs[0].Identity)
}
