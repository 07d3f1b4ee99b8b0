package ffmpeg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoffmation/hkhoffmation/mp4"
)

func TestFragmentedSession(t *testing.T) {
	path := useHelper(t, "fragmented")

	s, err := StartFragmentedSession(context.Background(), FragmentedOptions{
		Name:  "test",
		Path:  path,
		Input: helperArgs(),
	})
	require.NoError(t, err)
	defer s.Close()

	var types []string
	for {
		box, err := s.Next()
		if err != nil {
			assert.ErrorIs(t, err, mp4.ErrStreamEnded)
			break
		}
		types = append(types, box.Type)
		assert.Equal(t, box.Type+"-payload", string(box.Data))
	}
	assert.Equal(t, []string{"ftyp", "moov", "moof", "mdat"}, types)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestFragmentedSessionProcessExits(t *testing.T) {
	path := useHelper(t, "exit")

	_, err := StartFragmentedSession(context.Background(), FragmentedOptions{
		Name:  "test",
		Path:  path,
		Input: helperArgs(),
	})
	assert.Error(t, err)
}

func TestFragmentedSessionCanceled(t *testing.T) {
	path := useHelper(t, "sleep")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := StartFragmentedSession(ctx, FragmentedOptions{
		Name:  "test",
		Path:  path,
		Input: helperArgs(),
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFragmentedSessionShortRun(t *testing.T) {
	path := useHelper(t, "fragmented")

	// the fake connects, writes everything and exits right away, so the
	// exit often lands together with the accepted connection
	for i := 0; i < 10; i++ {
		s, err := StartFragmentedSession(context.Background(), FragmentedOptions{
			Name:  "test",
			Path:  path,
			Input: helperArgs(),
		})
		require.NoError(t, err)

		box, err := s.Next()
		require.NoError(t, err)
		assert.Equal(t, mp4.TypeFtyp, box.Type)
		s.Close()
	}
}
