package model

import (
	"encoding/json"
	"errors"
	"time"
)

// BackupFile is the on-disk JSON form of one account backup.
// Keys this build does not know are carried in Extra and written back unchanged.
type BackupFile struct {
	SessionState    string
	AuthStatus      *string
	ProfileURL      *string
	UserSettings    *string
	IntegrityMarker *string
	BackupTime      time.Time
	BackupVersion   int
	Extra           map[string]json.RawMessage
}

const (
	keyBackupTime    = "backupTime"
	keyBackupVersion = "backupVersion"
)

// NewBackupFile builds a backup file from a store snapshot, stamped with now.
func NewBackupFile(s Snapshot, now time.Time) *BackupFile {
	return &BackupFile{
		SessionState:    s.SessionState,
		AuthStatus:      s.AuthStatus,
		ProfileURL:      s.ProfileURL,
		UserSettings:    s.UserSettings,
		IntegrityMarker: s.IntegrityMarker,
		BackupTime:      now.UTC(),
		BackupVersion:   BackupFormatVersion,
	}
}

// Snapshot returns the store rows described by the file.
func (f *BackupFile) Snapshot() Snapshot {
	return Snapshot{
		SessionState:    f.SessionState,
		AuthStatus:      f.AuthStatus,
		ProfileURL:      f.ProfileURL,
		UserSettings:    f.UserSettings,
		IntegrityMarker: f.IntegrityMarker,
	}
}

// MarshalJSON writes known keys next to the preserved extras.
func (f BackupFile) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Extra)+7)
	for k, v := range f.Extra {
		out[k] = v
	}
	out[KeySessionState] = f.SessionState
	putOpt(out, KeyAuthStatus, f.AuthStatus)
	putOpt(out, KeyProfileURL, f.ProfileURL)
	putOpt(out, KeyUserSettings, f.UserSettings)
	putOpt(out, KeyIntegrityMarker, f.IntegrityMarker)
	if !f.BackupTime.IsZero() {
		out[keyBackupTime] = f.BackupTime.UTC().Format(time.RFC3339)
	}
	if f.BackupVersion != 0 {
		out[keyBackupVersion] = f.BackupVersion
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads known keys and keeps every other key verbatim.
func (f *BackupFile) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("backup file is not a JSON object")
	}
	*f = BackupFile{}

	sessionRaw, ok := raw[KeySessionState]
	if !ok {
		return errors.New("backup file has no " + KeySessionState)
	}
	if err := json.Unmarshal(sessionRaw, &f.SessionState); err != nil {
		return errors.New(KeySessionState + " is not a string")
	}
	delete(raw, KeySessionState)

	for key, dst := range map[string]**string{
		KeyAuthStatus:      &f.AuthStatus,
		KeyProfileURL:      &f.ProfileURL,
		KeyUserSettings:    &f.UserSettings,
		KeyIntegrityMarker: &f.IntegrityMarker,
	} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		var s *string
		if err := json.Unmarshal(v, &s); err != nil {
			return errors.New(key + " is not a string")
		}
		*dst = s
		delete(raw, key)
	}

	if v, ok := raw[keyBackupTime]; ok {
		var ts string
		if json.Unmarshal(v, &ts) == nil {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				f.BackupTime = t
				delete(raw, keyBackupTime)
			}
		}
	}
	if v, ok := raw[keyBackupVersion]; ok {
		if json.Unmarshal(v, &f.BackupVersion) == nil {
			delete(raw, keyBackupVersion)
		}
	}

	if len(raw) > 0 {
		f.Extra = raw
	}
	return nil
}

func putOpt(m map[string]any, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}
