package blob

import (
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	key := objectKey("user-1", "image/png", now)
	assert.Regexp(t, regexp.MustCompile(`^user-1/1700000000000-[a-z0-9]{6}\.png$`), key)

	key = objectKey("user-1", "image/jpeg", now)
	assert.Regexp(t, regexp.MustCompile(`^user-1/1700000000000-[a-z0-9]{6}\.jpg$`), key)

	// Unknown content types default to jpg.
	key = objectKey("user-1", "", now)
	assert.Regexp(t, regexp.MustCompile(`\.jpg$`), key)
}

func TestObjectKey_Unique(t *testing.T) {
	now := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		key := objectKey("u", "image/png", now)
		assert.False(t, seen[key], "key %s generated twice", key)
		seen[key] = true
	}
}

func newTestStore(t *testing.T) *ImageStore {
	t.Helper()
	return &ImageStore{
		bucket:        "plate-images",
		publicBaseURL: "https://storage.example.com",
		log:           zerolog.Nop(),
	}
}

func TestObjectPath(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name    string
		input   string
		wantKey string
		wantOK  bool
	}{
		{
			name:    "full public url",
			input:   "https://storage.example.com/plate-images/u1/170-abc123.jpg",
			wantKey: "u1/170-abc123.jpg",
			wantOK:  true,
		},
		{
			name:    "bare path",
			input:   "u1/170-abc123.jpg",
			wantKey: "u1/170-abc123.jpg",
			wantOK:  true,
		},
		{
			name:    "encoded key",
			input:   "https://storage.example.com/plate-images/u1/my%20image.jpg",
			wantKey: "u1/my image.jpg",
			wantOK:  true,
		},
		{
			name:   "foreign url",
			input:  "https://elsewhere.example.com/other-bucket/file.jpg",
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := s.objectPath(tt.input)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantKey, key)
			}
		})
	}
}

func TestOwns(t *testing.T) {
	s := newTestStore(t)
	assert.True(t, s.Owns("https://storage.example.com/plate-images/u1/x.jpg"))
	assert.False(t, s.Owns("https://cdn.other.com/images/x.jpg"))
}

func TestPublicURL(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, "https://storage.example.com/plate-images/u1/x.jpg", s.PublicURL("u1/x.jpg"))
}
