package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absolutdee/PTThaiPlus-sub000/internal/models"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/notifications"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error

	testIDCounter atomic.Int64
)

const testLeadTime = 24 * time.Hour

func TestSessionServiceBooksAndConsumesQuota(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationSessionService(pool, Policy{MinimumLead: testLeadTime, MaxReschedules: 3})

	trainerID := nextTestID()
	clientID := nextTestID()
	scheduledAt := futureSlot(9)
	openAllDay(t, ctx, pool, trainerID, scheduledAt.Weekday())
	pkg := createTestPackage(t, ctx, pool, clientID, trainerID, 1)
	t.Cleanup(func() { cleanupTestData(t, ctx, pool, trainerID, pkg.ID) })

	session, err := service.CreateBooking(ctx, CreateBookingInput{
		ClientID:        clientID,
		TrainerID:       trainerID,
		PackageID:       pkg.ID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if session.Status != models.StatusPending {
		t.Fatalf("expected pending session, got %q", session.Status)
	}

	updated, err := repository.NewPackageRepository(pool).GetByID(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("GetByID package: %v", err)
	}
	if updated.Remaining() != 0 {
		t.Fatalf("expected quota consumed, remaining %d", updated.Remaining())
	}

	// The only credit is gone; a second booking must fail.
	_, err = service.CreateBooking(ctx, CreateBookingInput{
		ClientID:        clientID,
		TrainerID:       trainerID,
		PackageID:       pkg.ID,
		ScheduledAt:     scheduledAt.Add(2 * time.Hour),
		DurationMinutes: 60,
	})
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}
}

func TestSessionServiceRejectsOverlappingBookings(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationSessionService(pool, Policy{MinimumLead: testLeadTime, MaxReschedules: 3})

	trainerID := nextTestID()
	firstClient := nextTestID()
	secondClient := nextTestID()
	scheduledAt := futureSlot(12)
	openAllDay(t, ctx, pool, trainerID, scheduledAt.Weekday())
	firstPkg := createTestPackage(t, ctx, pool, firstClient, trainerID, 5)
	secondPkg := createTestPackage(t, ctx, pool, secondClient, trainerID, 5)
	t.Cleanup(func() { cleanupTestData(t, ctx, pool, trainerID, firstPkg.ID, secondPkg.ID) })

	if _, err := service.CreateBooking(ctx, CreateBookingInput{
		ClientID:        firstClient,
		TrainerID:       trainerID,
		PackageID:       firstPkg.ID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
	}); err != nil {
		t.Fatalf("first CreateBooking: %v", err)
	}

	_, err := service.CreateBooking(ctx, CreateBookingInput{
		ClientID:        secondClient,
		TrainerID:       trainerID,
		PackageID:       secondPkg.ID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestSessionServiceExactlyOneConcurrentBookingWins(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationSessionService(pool, Policy{MinimumLead: testLeadTime, MaxReschedules: 3})

	trainerID := nextTestID()
	scheduledAt := futureSlot(10)
	openAllDay(t, ctx, pool, trainerID, scheduledAt.Weekday())

	const contenders = 4
	pkgIDs := make([]int64, contenders)
	clientIDs := make([]int64, contenders)
	for i := 0; i < contenders; i++ {
		clientIDs[i] = nextTestID()
		pkgIDs[i] = createTestPackage(t, ctx, pool, clientIDs[i], trainerID, 5).ID
	}
	t.Cleanup(func() { cleanupTestData(t, ctx, pool, trainerID, pkgIDs...) })

	var wg sync.WaitGroup
	results := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = service.CreateBooking(ctx, CreateBookingInput{
				ClientID:        clientIDs[i],
				TrainerID:       trainerID,
				PackageID:       pkgIDs[i],
				ScheduledAt:     scheduledAt,
				DurationMinutes: 60,
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrSlotUnavailable):
		default:
			t.Fatalf("contender %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestSessionServiceRejectsBookingInsideLeadTime(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationSessionService(pool, Policy{MinimumLead: testLeadTime, MaxReschedules: 3})

	trainerID := nextTestID()
	clientID := nextTestID()
	soon := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Hour)
	openAllDay(t, ctx, pool, trainerID, soon.Weekday())
	pkg := createTestPackage(t, ctx, pool, clientID, trainerID, 5)
	t.Cleanup(func() { cleanupTestData(t, ctx, pool, trainerID, pkg.ID) })

	_, err := service.CreateBooking(ctx, CreateBookingInput{
		ClientID:        clientID,
		TrainerID:       trainerID,
		PackageID:       pkg.ID,
		ScheduledAt:     soon,
		DurationMinutes: 60,
	})
	if !errors.Is(err, ErrLeadTimeViolation) {
		t.Fatalf("expected ErrLeadTimeViolation, got %v", err)
	}
}

func TestSessionServiceCancelRestoresQuotaExactlyOnce(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationSessionService(pool, Policy{MinimumLead: testLeadTime, MaxReschedules: 3})

	trainerID := nextTestID()
	clientID := nextTestID()
	scheduledAt := futureSlot(14)
	openAllDay(t, ctx, pool, trainerID, scheduledAt.Weekday())
	pkg := createTestPackage(t, ctx, pool, clientID, trainerID, 2)
	t.Cleanup(func() { cleanupTestData(t, ctx, pool, trainerID, pkg.ID) })

	session, err := service.CreateBooking(ctx, CreateBookingInput{
		ClientID:        clientID,
		TrainerID:       trainerID,
		PackageID:       pkg.ID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	confirmed, err := service.ConfirmSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ConfirmSession: %v", err)
	}
	if confirmed.Status != models.StatusConfirmed {
		t.Fatalf("expected confirmed, got %q", confirmed.Status)
	}

	// Cancelling a confirmed session requires a reason.
	if _, err := service.CancelSession(ctx, session.ID, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without reason, got %v", err)
	}

	cancelled, err := service.CancelSession(ctx, session.ID, "client travelling")
	if err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if cancelled.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %q", cancelled.Status)
	}
	if cancelled.CancellationReason == nil || *cancelled.CancellationReason != "client travelling" {
		t.Fatalf("expected recorded reason, got %+v", cancelled.CancellationReason)
	}

	pkgAfter, err := repository.NewPackageRepository(pool).GetByID(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("GetByID package: %v", err)
	}
	if pkgAfter.UsedSessions != 0 {
		t.Fatalf("expected credit restored, used %d", pkgAfter.UsedSessions)
	}

	// Cancelling again is invalid and must not double-credit.
	if _, err := service.CancelSession(ctx, session.ID, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	pkgAgain, err := repository.NewPackageRepository(pool).GetByID(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("GetByID package: %v", err)
	}
	if pkgAgain.UsedSessions != 0 {
		t.Fatalf("expected no double credit, used %d", pkgAgain.UsedSessions)
	}
}

func TestSessionServiceRescheduleChainIsBounded(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationSessionService(pool, Policy{MinimumLead: testLeadTime, MaxReschedules: 2})

	trainerID := nextTestID()
	clientID := nextTestID()
	scheduledAt := futureSlot(8)
	openAllDay(t, ctx, pool, trainerID, scheduledAt.Weekday())
	pkg := createTestPackage(t, ctx, pool, clientID, trainerID, 3)
	t.Cleanup(func() { cleanupTestData(t, ctx, pool, trainerID, pkg.ID) })

	session, err := service.CreateBooking(ctx, CreateBookingInput{
		ClientID:        clientID,
		TrainerID:       trainerID,
		PackageID:       pkg.ID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	first, err := service.RescheduleSession(ctx, session.ID, scheduledAt.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("first RescheduleSession: %v", err)
	}
	if first.OldSession.Status != models.StatusRescheduled {
		t.Fatalf("expected old session rescheduled, got %q", first.OldSession.Status)
	}
	if first.NewSession.Status != models.StatusPending {
		t.Fatalf("expected successor pending, got %q", first.NewSession.Status)
	}
	if first.NewSession.RescheduleCount != 1 {
		t.Fatalf("expected reschedule count 1, got %d", first.NewSession.RescheduleCount)
	}
	if first.NewSession.RescheduledFrom == nil || *first.NewSession.RescheduledFrom != session.ID {
		t.Fatalf("expected predecessor link to %d, got %+v", session.ID, first.NewSession.RescheduledFrom)
	}

	second, err := service.RescheduleSession(ctx, first.NewSession.ID, scheduledAt.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("second RescheduleSession: %v", err)
	}
	if second.NewSession.RescheduleCount != 2 {
		t.Fatalf("expected reschedule count 2, got %d", second.NewSession.RescheduleCount)
	}

	_, err = service.RescheduleSession(ctx, second.NewSession.ID, scheduledAt.Add(6*time.Hour))
	if !errors.Is(err, ErrRescheduleLimitExceeded) {
		t.Fatalf("expected ErrRescheduleLimitExceeded, got %v", err)
	}

	// When the target also violates the lead-time rule, that check reports
	// first; the limit guard only runs against an otherwise valid target.
	_, err = service.RescheduleSession(ctx, second.NewSession.ID, time.Now().UTC().Add(time.Hour))
	if !errors.Is(err, ErrLeadTimeViolation) {
		t.Fatalf("expected ErrLeadTimeViolation before the limit check, got %v", err)
	}

	// Rescheduling the retired predecessor again must fail, not fork the chain.
	if _, err := service.RescheduleSession(ctx, session.ID, scheduledAt.Add(7*time.Hour)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on retired session, got %v", err)
	}

	// The chain consumed exactly one credit throughout.
	pkgAfter, err := repository.NewPackageRepository(pool).GetByID(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("GetByID package: %v", err)
	}
	if pkgAfter.UsedSessions != 1 {
		t.Fatalf("expected one consumed credit across the chain, used %d", pkgAfter.UsedSessions)
	}
}

func TestSessionServiceFailedRescheduleLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationSessionService(pool, Policy{MinimumLead: testLeadTime, MaxReschedules: 3})

	trainerID := nextTestID()
	clientID := nextTestID()
	blockedAt := futureSlot(9)
	scheduledAt := futureSlot(11)
	openAllDay(t, ctx, pool, trainerID, scheduledAt.Weekday())
	pkg := createTestPackage(t, ctx, pool, clientID, trainerID, 3)
	t.Cleanup(func() { cleanupTestData(t, ctx, pool, trainerID, pkg.ID) })

	if _, err := service.CreateBooking(ctx, CreateBookingInput{
		ClientID:        clientID,
		TrainerID:       trainerID,
		PackageID:       pkg.ID,
		ScheduledAt:     blockedAt,
		DurationMinutes: 60,
	}); err != nil {
		t.Fatalf("CreateBooking blocker: %v", err)
	}

	moved, err := service.CreateBooking(ctx, CreateBookingInput{
		ClientID:        clientID,
		TrainerID:       trainerID,
		PackageID:       pkg.ID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	if _, err := service.RescheduleSession(ctx, moved.ID, blockedAt); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	// The failed swap must leave the session where it was and create nothing.
	after, err := service.GetSession(ctx, moved.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if after.Status != models.StatusPending {
		t.Fatalf("expected session to stay pending after failed reschedule, got %q", after.Status)
	}

	sessions, total, err := repository.NewSessionRepository(pool).List(ctx, repository.SessionListFilter{
		TrainerID: trainerID,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected the two original sessions, got %d", total)
	}
	for _, s := range sessions {
		if s.RescheduledFrom != nil {
			t.Fatalf("expected no successor row, found session %d linked to %d", s.ID, *s.RescheduledFrom)
		}
	}
}

func TestSessionServiceConcurrentReschedulesCreateOneSuccessor(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationSessionService(pool, Policy{MinimumLead: testLeadTime, MaxReschedules: 3})

	trainerID := nextTestID()
	clientID := nextTestID()
	scheduledAt := futureSlot(9)
	openAllDay(t, ctx, pool, trainerID, scheduledAt.Weekday())
	pkg := createTestPackage(t, ctx, pool, clientID, trainerID, 3)
	t.Cleanup(func() { cleanupTestData(t, ctx, pool, trainerID, pkg.ID) })

	session, err := service.CreateBooking(ctx, CreateBookingInput{
		ClientID:        clientID,
		TrainerID:       trainerID,
		PackageID:       pkg.ID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	targets := []time.Time{scheduledAt.Add(2 * time.Hour), scheduledAt.Add(4 * time.Hour)}
	var wg sync.WaitGroup
	results := make([]error, len(targets))
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target time.Time) {
			defer wg.Done()
			_, results[i] = service.RescheduleSession(ctx, session.ID, target)
		}(i, target)
	}
	wg.Wait()

	winners := 0
	for i, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSlotUnavailable):
			// The loser finds the session already retired, or its target
			// taken by the winner's successor.
		default:
			t.Fatalf("contender %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning reschedule, got %d", winners)
	}

	sessions, _, err := repository.NewSessionRepository(pool).List(ctx, repository.SessionListFilter{
		TrainerID: trainerID,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	successors := 0
	var original *models.Session
	for i := range sessions {
		if sessions[i].ID == session.ID {
			original = &sessions[i]
		}
		if sessions[i].RescheduledFrom != nil && *sessions[i].RescheduledFrom == session.ID {
			successors++
		}
	}
	if original == nil || original.Status != models.StatusRescheduled {
		t.Fatalf("expected the original session to be retired exactly once, got %+v", original)
	}
	if successors != 1 {
		t.Fatalf("expected exactly one successor session, got %d", successors)
	}
}

func TestSessionServiceListsByTrainerAndStatus(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationSessionService(pool, Policy{MinimumLead: testLeadTime, MaxReschedules: 3})

	trainerID := nextTestID()
	clientID := nextTestID()
	scheduledAt := futureSlot(15)
	openAllDay(t, ctx, pool, trainerID, scheduledAt.Weekday())
	pkg := createTestPackage(t, ctx, pool, clientID, trainerID, 3)
	t.Cleanup(func() { cleanupTestData(t, ctx, pool, trainerID, pkg.ID) })

	booked, err := service.CreateBooking(ctx, CreateBookingInput{
		ClientID:        clientID,
		TrainerID:       trainerID,
		PackageID:       pkg.ID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	sessions, total, err := service.ListSessions(ctx, repository.SessionListFilter{
		TrainerID: trainerID,
		Status:    models.StatusPending,
	})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected total 1, got %d", total)
	}
	if len(sessions) != 1 || sessions[0].ID != booked.ID {
		t.Fatalf("expected trainer to see session %d, got %+v", booked.ID, sessions)
	}
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func newIntegrationSessionService(pool *pgxpool.Pool, policy Policy) *SessionService {
	return NewSessionService(
		pool,
		repository.NewSessionRepository(pool),
		repository.NewPackageRepository(pool),
		repository.NewWorkingHoursRepository(pool),
		notifications.NewHub(),
		policy,
	)
}

func nextTestID() int64 {
	return time.Now().UnixNano()%1_000_000_000 + testIDCounter.Add(1)*1_000_000_000
}

// futureSlot picks an aligned slot far beyond any lead time.
func futureSlot(hour int) time.Time {
	day := time.Now().UTC().AddDate(0, 0, 14)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.UTC)
}

func openAllDay(t *testing.T, ctx context.Context, pool *pgxpool.Pool, trainerID int64, weekday time.Weekday) {
	t.Helper()

	hoursRepo := repository.NewWorkingHoursRepository(pool)
	if _, err := hoursRepo.Create(ctx, repository.CreateWorkingIntervalInput{
		TrainerID:    trainerID,
		Weekday:      weekday,
		StartMinutes: 0,
		EndMinutes:   1440,
	}); err != nil {
		t.Fatalf("Create working hours: %v", err)
	}
}

func createTestPackage(
	t *testing.T,
	ctx context.Context,
	pool *pgxpool.Pool,
	clientID, trainerID int64,
	totalSessions int,
) *models.Package {
	t.Helper()

	pkg, err := repository.NewPackageRepository(pool).Create(ctx, repository.CreatePackageInput{
		ClientID:      clientID,
		TrainerID:     trainerID,
		TotalSessions: totalSessions,
	})
	if err != nil {
		t.Fatalf("Create package: %v", err)
	}
	return pkg
}

func cleanupTestData(
	t *testing.T,
	ctx context.Context,
	pool *pgxpool.Pool,
	trainerID int64,
	packageIDs ...int64,
) {
	t.Helper()

	if _, err := pool.Exec(ctx, "DELETE FROM sessions WHERE trainer_id = $1", trainerID); err != nil {
		t.Fatalf("cleanup sessions: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM working_hours WHERE trainer_id = $1", trainerID); err != nil {
		t.Fatalf("cleanup working hours: %v", err)
	}
	if len(packageIDs) > 0 {
		if _, err := pool.Exec(ctx, "DELETE FROM packages WHERE id = ANY($1)", packageIDs); err != nil {
			t.Fatalf("cleanup packages: %v", err)
		}
	}
}
