package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()
	badgerCfg := DefaultBadgerConfig("")
	badgerCfg.InMemory = true
	badgerCfg.GCInterval = "1h"

	tests := []struct {
		name      string
		cfg       Config
		directory bool
		backup    bool
	}{
		{"memory", Config{Backend: BackendMemory}, false, false},
		{"badger", Config{Backend: BackendBadger, Badger: badgerCfg}, false, true},
		{"sqlite", Config{Backend: BackendSQLite, DSN: ":memory:"}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Open(ctx, tt.cfg, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer e.Close()

			if err := e.Ping(ctx); err != nil {
				t.Errorf("Ping: %v", err)
			}
			if got := e.Directory() != nil; got != tt.directory {
				t.Errorf("Directory present = %v, want %v", got, tt.directory)
			}
			if got := e.AuditWriter() != nil; got != tt.directory {
				t.Errorf("AuditWriter present = %v, want %v", got, tt.directory)
			}

			var buf bytes.Buffer
			_, err = e.Backup(&buf)
			if tt.backup && err != nil {
				t.Errorf("Backup: %v", err)
			}
			if !tt.backup && !errors.Is(err, ErrBackupUnsupported) {
				t.Errorf("Backup err = %v, want ErrBackupUnsupported", err)
			}
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Config{Backend: "etcd"}, nil); err == nil {
		t.Error("Open accepted unknown backend")
	}
}
