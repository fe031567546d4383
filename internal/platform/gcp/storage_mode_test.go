package gcp

import (
	"errors"
	"testing"
)

func TestResolveObjectStorageConfigFromEnvDefaultGCS(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfigFromEnv: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCS, cfg.Mode)
	}
	if cfg.InferredEmulator {
		t.Fatalf("inferred emulator: want=false got=true")
	}
}

func TestResolveObjectStorageConfigFromEnvInfersEmulator(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443")

	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfigFromEnv: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCSEmulator || !cfg.InferredEmulator {
		t.Fatalf("mode: want=%q inferred got=%q inferred=%v", ObjectStorageModeGCSEmulator, cfg.Mode, cfg.InferredEmulator)
	}
}

func TestResolveObjectStorageConfigFromEnvExplicitGCSIgnoresEmulatorHost(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "GCS")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443")

	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfigFromEnv: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCS, cfg.Mode)
	}
}

func TestResolveObjectStorageConfigFromEnvErrors(t *testing.T) {
	cases := []struct {
		name  string
		mode  string
		host  string
		field string
	}{
		{name: "unknown mode", mode: "s3", field: "OBJECT_STORAGE_MODE"},
		{name: "emulator without host", mode: "gcs_emulator", field: "STORAGE_EMULATOR_HOST"},
		{name: "emulator relative host", mode: "gcs_emulator", host: "fake-gcs:4443", field: "STORAGE_EMULATOR_HOST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OBJECT_STORAGE_MODE", tc.mode)
			t.Setenv("STORAGE_EMULATOR_HOST", tc.host)
			_, err := ResolveObjectStorageConfigFromEnv()
			var cfgErr *ObjectStorageConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error: want *ObjectStorageConfigError got=%v", err)
			}
			if cfgErr.Field != tc.field {
				t.Fatalf("field: want=%q got=%q", tc.field, cfgErr.Field)
			}
		})
	}
}
