package phash

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blocky renders an 8x8 grid of random gray blocks so the low frequencies
// the hash looks at carry most of the energy.
func blocky(seed int64) image.Image {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, 256, 256))
	for by := 0; by < 8; by++ {
		for bx := 0; bx < 8; bx++ {
			c := color.Gray{Y: uint8(rng.Intn(256))}
			for y := by * 32; y < (by+1)*32; y++ {
				for x := bx * 32; x < (bx+1)*32; x++ {
					img.SetGray(x, y, c)
				}
			}
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func TestIdenticalBytesRejectedOnce(t *testing.T) {
	s := NewStore(DefaultThreshold)
	data := encodePNG(t, blocky(1))

	first, err := s.Record(context.Background(), "account:a", "job-01", data)
	require.NoError(t, err)
	assert.True(t, first.Accepted)

	second, err := s.Record(context.Background(), "account:a", "job-02", data)
	require.NoError(t, err)
	assert.False(t, second.Accepted)
	assert.Equal(t, "job-01", second.MatchedTaskID)
	assert.Zero(t, second.Distance)
	assert.Len(t, s.Fingerprints("account:a"), 1)
}

func TestDistinctImagesAccepted(t *testing.T) {
	s := NewStore(DefaultThreshold)
	for i, seed := range []int64{11, 22, 33} {
		d, err := s.Record(context.Background(), "global", string(rune('a'+i)), encodePNG(t, blocky(seed)))
		require.NoError(t, err)
		assert.True(t, d.Accepted, "seed %d", seed)
	}
	assert.Len(t, s.Fingerprints("global"), 3)
}

func TestReencodedImageIsNearDuplicate(t *testing.T) {
	s := NewStore(DefaultThreshold)
	img := blocky(7)
	_, err := s.Record(context.Background(), "global", "t1", encodePNG(t, img))
	require.NoError(t, err)
	d, err := s.Record(context.Background(), "global", "t2", encodeJPEG(t, img))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Less(t, d.Distance, DefaultThreshold)
}

func TestScopesAreIsolated(t *testing.T) {
	s := NewStore(DefaultThreshold)
	data := encodePNG(t, blocky(5))
	a, err := s.Record(context.Background(), ScopeAccount.ScopeFor("a"), "a-01", data)
	require.NoError(t, err)
	b, err := s.Record(context.Background(), ScopeAccount.ScopeFor("b"), "b-01", data)
	require.NoError(t, err)
	assert.True(t, a.Accepted)
	assert.True(t, b.Accepted)
	assert.Equal(t, "global", ScopeGlobal.ScopeFor("a"))
}

func TestSameTaskReplacesItsFingerprint(t *testing.T) {
	s := NewStore(DefaultThreshold)
	_, err := s.Record(context.Background(), "global", "t1", encodePNG(t, blocky(1)))
	require.NoError(t, err)
	d, err := s.Record(context.Background(), "global", "t1", encodePNG(t, blocky(2)))
	require.NoError(t, err)
	assert.True(t, d.Accepted)
	prints := s.Fingerprints("global")
	require.Len(t, prints, 1)
	assert.Equal(t, d.Hash, prints[0].Hash)
}

func TestForgetAllowsImageAgain(t *testing.T) {
	s := NewStore(DefaultThreshold)
	data := encodePNG(t, blocky(9))
	_, err := s.Record(context.Background(), "global", "t1", data)
	require.NoError(t, err)
	require.NoError(t, s.Forget(context.Background(), "global", "t1"))
	d, err := s.Record(context.Background(), "global", "t2", data)
	require.NoError(t, err)
	assert.True(t, d.Accepted)
}

func TestConcurrentIdenticalRecordsAcceptExactlyOne(t *testing.T) {
	s := NewStore(DefaultThreshold)
	data := encodePNG(t, blocky(3))
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := s.Record(context.Background(), "global", string(rune('A'+i)), data)
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if d.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}

func TestUndecodableImage(t *testing.T) {
	s := NewStore(DefaultThreshold)
	_, err := s.Record(context.Background(), "global", "t1", []byte("not an image"))
	assert.Error(t, err)
}

type memRepo struct {
	prints    []Fingerprint
	deleted   []string
	insertErr error
}

func (m *memRepo) InsertFingerprint(ctx context.Context, fp Fingerprint) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.prints = append(m.prints, fp)
	return nil
}

func (m *memRepo) DeleteFingerprint(ctx context.Context, scope, taskID string) error {
	m.deleted = append(m.deleted, scope+"/"+taskID)
	return nil
}

func (m *memRepo) ListFingerprints(ctx context.Context) ([]Fingerprint, error) {
	return m.prints, nil
}

func TestRepositoryWriteThroughAndWarm(t *testing.T) {
	repo := &memRepo{}
	s := NewStore(DefaultThreshold, WithRepository(repo))
	data := encodePNG(t, blocky(4))
	_, err := s.Record(context.Background(), "global", "t1", data)
	require.NoError(t, err)
	require.Len(t, repo.prints, 1)

	restarted := NewStore(DefaultThreshold, WithRepository(repo))
	require.NoError(t, restarted.Warm(context.Background()))
	d, err := restarted.Record(context.Background(), "global", "t2", data)
	require.NoError(t, err)
	assert.False(t, d.Accepted, "warm-loaded fingerprint must still match")

	require.NoError(t, restarted.Forget(context.Background(), "global", "t1"))
	assert.Equal(t, []string{"global/t1"}, repo.deleted)
}

func TestRepositoryFailureLeavesScopeUnchanged(t *testing.T) {
	repo := &memRepo{insertErr: errors.New("db down")}
	s := NewStore(DefaultThreshold, WithRepository(repo))
	_, err := s.Record(context.Background(), "global", "t1", encodePNG(t, blocky(4)))
	require.Error(t, err)
	assert.Empty(t, s.Fingerprints("global"))
}
