package system

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingService struct {
	name      string
	startErr  error
	starts    *[]string
	stops     *[]string
}

func (s *recordingService) Name() string { return s.name }
func (s *recordingService) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	*s.starts = append(*s.starts, s.name)
	return nil
}
func (s *recordingService) Stop(context.Context) error {
	*s.stops = append(*s.stops, s.name)
	return nil
}

func TestManager_StartsInOrderAndStopsInReverse(t *testing.T) {
	var starts, stops []string
	m := NewManager()
	require.NoError(t, m.Register(&recordingService{name: "a", starts: &starts, stops: &stops}))
	require.NoError(t, m.Register(&recordingService{name: "b", starts: &starts, stops: &stops}))
	require.NoError(t, m.Register(&recordingService{name: "c", starts: &starts, stops: &stops}))

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, starts)

	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, []string{"c", "b", "a"}, stops)
}

func TestManager_RollsBackStartedServicesOnFailure(t *testing.T) {
	var starts, stops []string
	m := NewManager()
	require.NoError(t, m.Register(&recordingService{name: "a", starts: &starts, stops: &stops}))
	require.NoError(t, m.Register(&recordingService{name: "b", startErr: errors.New("boom"), starts: &starts, stops: &stops}))
	require.NoError(t, m.Register(&recordingService{name: "c", starts: &starts, stops: &stops}))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, starts, "c must never start once b fails")
	assert.Equal(t, []string{"a"}, stops, "only the already-started a should be rolled back")
}

func TestManager_RejectsRegistrationAfterStart(t *testing.T) {
	var starts, stops []string
	m := NewManager()
	require.NoError(t, m.Register(&recordingService{name: "a", starts: &starts, stops: &stops}))
	require.NoError(t, m.Start(context.Background()))

	err := m.Register(&recordingService{name: "late", starts: &starts, stops: &stops})
	require.Error(t, err)
}
