package storage

import (
	"errors"
	"testing"
)

func TestS3Storage_KeyFor(t *testing.T) {
	s := NewS3StorageWithClient(nil, "lake", DefaultS3Config())

	tests := []struct {
		location string
		want     string
		wantErr  bool
	}{
		{location: "s3://lake/analytics/events/version_4/", want: "analytics/events/version_4/"},
		{location: "s3a://lake/analytics/events/version_4/", want: "analytics/events/version_4/"},
		{location: "s3://other-bucket/analytics/events/version_4/", wantErr: true},
		{location: "https://lake.example.com/analytics/", wantErr: true},
	}

	for _, tt := range tests {
		got, err := s.KeyFor(tt.location)
		if tt.wantErr {
			if !errors.Is(err, ErrForeignLocation) {
				t.Errorf("KeyFor(%q): expected ErrForeignLocation, got %v", tt.location, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("KeyFor(%q) failed: %v", tt.location, err)
			continue
		}
		if got != tt.want {
			t.Errorf("KeyFor(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}
