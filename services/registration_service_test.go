package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mini-compete/models"
	"mini-compete/queue"
	"mini-compete/testutil"
)

func newRegistrationEnv(t *testing.T) (*RegistrationService, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	svc := NewRegistrationService(db, NewIdempotencyService(db), queue.New(db))
	return svc, db
}

func seedUser(t *testing.T, db *gorm.DB, name, role string) models.User {
	t.Helper()
	u := models.User{
		ID:    uuid.NewString(),
		Name:  name,
		Email: name + "@test.com",
		Role:  role,
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func seedCompetition(t *testing.T, db *gorm.DB, capacity int, deadline time.Time) models.Competition {
	t.Helper()
	organizer := seedUser(t, db, "organizer-"+uuid.NewString()[:8], models.RoleOrganizer)
	comp := models.Competition{
		ID:          uuid.NewString(),
		Title:       "Summer Coding Challenge",
		Slug:        "summer-coding-challenge",
		Description: "Algorithms and data structures.",
		Capacity:    capacity,
		RegDeadline: deadline,
		OrganizerID: organizer.ID,
	}
	require.NoError(t, db.Create(&comp).Error)
	return comp
}

func TestRegisterSuccess(t *testing.T) {
	svc, db := newRegistrationEnv(t)
	comp := seedCompetition(t, db, 10, time.Now().UTC().Add(time.Hour))
	user := seedUser(t, db, "alice", models.RoleParticipant)

	outcome, err := svc.Register(context.Background(), comp.ID, user.ID, "k1")
	require.NoError(t, err)
	assert.Equal(t, 201, outcome.Status)
	assert.Equal(t, "Successfully registered", outcome.Message)
	assert.NotEmpty(t, outcome.RegistrationID)

	var reg models.Registration
	require.NoError(t, db.First(&reg, "id = ?", outcome.RegistrationID).Error)
	assert.Equal(t, models.RegistrationConfirmed, reg.Status)
	assert.Equal(t, user.ID, reg.UserID)

	// The admission must leave exactly one confirmation job behind.
	var jobs []models.Job
	require.NoError(t, db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.NameRegistrationConfirmation, jobs[0].Name)
	assert.Equal(t, 3, jobs[0].MaxAttempts)

	payload, err := queue.DecodePayload(&jobs[0])
	require.NoError(t, err)
	confirmation, ok := payload.(queue.ConfirmationPayload)
	require.True(t, ok)
	assert.Equal(t, outcome.RegistrationID, confirmation.RegistrationID)
}

func TestRegisterReplaySameKey(t *testing.T) {
	svc, db := newRegistrationEnv(t)
	comp := seedCompetition(t, db, 10, time.Now().UTC().Add(time.Hour))
	user := seedUser(t, db, "alice", models.RoleParticipant)

	first, err := svc.Register(context.Background(), comp.ID, user.ID, "k1")
	require.NoError(t, err)

	second, err := svc.Register(context.Background(), comp.ID, user.ID, "k1")
	require.NoError(t, err)

	firstRaw, _ := json.Marshal(first)
	secondRaw, _ := json.Marshal(second)
	assert.Equal(t, firstRaw, secondRaw, "replayed outcome must be byte-identical")

	var count int64
	require.NoError(t, db.Model(&models.Registration{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "replay must not create a second row")

	require.NoError(t, db.Model(&models.Job{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "replay must not enqueue a second job")
}

func TestRegisterKeyGatesReplayAcrossUsers(t *testing.T) {
	svc, db := newRegistrationEnv(t)
	comp := seedCompetition(t, db, 10, time.Now().UTC().Add(time.Hour))
	alice := seedUser(t, db, "alice", models.RoleParticipant)
	bob := seedUser(t, db, "bob", models.RoleParticipant)

	first, err := svc.Register(context.Background(), comp.ID, alice.ID, "shared-key")
	require.NoError(t, err)

	// The key alone gates replay: a different caller with the same key gets
	// the stored outcome and never touches the ledger.
	second, err := svc.Register(context.Background(), comp.ID, bob.ID, "shared-key")
	require.NoError(t, err)
	assert.Equal(t, first.RegistrationID, second.RegistrationID)

	var count int64
	require.NoError(t, db.Model(&models.Registration{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRegisterCompetitionNotFound(t *testing.T) {
	svc, db := newRegistrationEnv(t)
	user := seedUser(t, db, "alice", models.RoleParticipant)

	_, err := svc.Register(context.Background(), uuid.NewString(), user.ID, "k1")
	assert.ErrorIs(t, err, ErrCompetitionNotFound)
}

func TestRegisterDeadlineExpired(t *testing.T) {
	svc, db := newRegistrationEnv(t)
	comp := seedCompetition(t, db, 10, time.Now().UTC().Add(-time.Minute))
	user := seedUser(t, db, "alice", models.RoleParticipant)

	// Seats remain, but the window is closed.
	_, err := svc.Register(context.Background(), comp.ID, user.ID, "k1")
	assert.ErrorIs(t, err, ErrDeadlinePassed)
}

func TestRegisterCapacityExceeded(t *testing.T) {
	svc, db := newRegistrationEnv(t)
	comp := seedCompetition(t, db, 1, time.Now().UTC().Add(time.Hour))
	alice := seedUser(t, db, "alice", models.RoleParticipant)
	bob := seedUser(t, db, "bob", models.RoleParticipant)

	_, err := svc.Register(context.Background(), comp.ID, alice.ID, "k1")
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), comp.ID, bob.ID, "k2")
	assert.ErrorIs(t, err, ErrCompetitionFull)
}

func TestRegisterAlreadyRegistered(t *testing.T) {
	svc, db := newRegistrationEnv(t)
	comp := seedCompetition(t, db, 10, time.Now().UTC().Add(time.Hour))
	user := seedUser(t, db, "alice", models.RoleParticipant)

	_, err := svc.Register(context.Background(), comp.ID, user.ID, "k1")
	require.NoError(t, err)

	// New key, same user: this is a second logical request, not a retry.
	_, err = svc.Register(context.Background(), comp.ID, user.ID, "k2")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	var count int64
	require.NoError(t, db.Model(&models.Registration{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRegisterCancelledRowBlocksReRegistration(t *testing.T) {
	svc, db := newRegistrationEnv(t)
	comp := seedCompetition(t, db, 10, time.Now().UTC().Add(time.Hour))
	user := seedUser(t, db, "alice", models.RoleParticipant)

	require.NoError(t, db.Create(&models.Registration{
		ID:            uuid.NewString(),
		CompetitionID: comp.ID,
		UserID:        user.ID,
		Status:        models.RegistrationCancelled,
	}).Error)

	// The unique pair constraint is a hard product rule: a cancelled row
	// still blocks.
	_, err := svc.Register(context.Background(), comp.ID, user.ID, "k1")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestConcurrentRegistrationsNoOversell(t *testing.T) {
	svc, db := newRegistrationEnv(t)
	const capacity = 3
	const contenders = 8
	comp := seedCompetition(t, db, capacity, time.Now().UTC().Add(time.Hour))

	users := make([]models.User, contenders)
	for i := range users {
		users[i] = seedUser(t, db, fmt.Sprintf("user%d", i), models.RoleParticipant)
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(context.Background(), comp.ID, users[i].ID, fmt.Sprintf("key-%d", i))
		}(i)
	}
	wg.Wait()

	admitted, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrCompetitionFull):
			rejected++
		default:
			t.Fatalf("unexpected outcome: %v", err)
		}
	}
	assert.Equal(t, capacity, admitted)
	assert.Equal(t, contenders-capacity, rejected)

	var confirmed int64
	require.NoError(t, db.Model(&models.Registration{}).
		Where("status = ?", models.RegistrationConfirmed).
		Count(&confirmed).Error)
	assert.EqualValues(t, capacity, confirmed)
}

func TestConcurrentSameUserSingleRow(t *testing.T) {
	svc, db := newRegistrationEnv(t)
	const contenders = 5
	comp := seedCompetition(t, db, 10, time.Now().UTC().Add(time.Hour))
	user := seedUser(t, db, "alice", models.RoleParticipant)

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(context.Background(), comp.ID, user.ID, fmt.Sprintf("key-%d", i))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyRegistered):
		default:
			t.Fatalf("unexpected outcome: %v", err)
		}
	}
	assert.Equal(t, 1, winners)

	var count int64
	require.NoError(t, db.Model(&models.Registration{}).
		Where("user_id = ? AND competition_id = ?", user.ID, comp.ID).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRegisterRequiresIdempotencyKey(t *testing.T) {
	svc, db := newRegistrationEnv(t)
	comp := seedCompetition(t, db, 10, time.Now().UTC().Add(time.Hour))
	user := seedUser(t, db, "alice", models.RoleParticipant)

	_, err := svc.Register(context.Background(), comp.ID, user.ID, "")
	assert.Error(t, err)
}
