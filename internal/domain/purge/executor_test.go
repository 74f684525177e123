package purge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"lifecycle/internal/domain/audit"
	"lifecycle/internal/domain/hold"
	"lifecycle/internal/domain/job"
	"lifecycle/internal/domain/policy"
)

type fakePolicies struct {
	byCategory map[string]policy.RetentionPolicy
}

func (f *fakePolicies) Active(_ context.Context, category string) (policy.RetentionPolicy, error) {
	p, ok := f.byCategory[category]
	if !ok {
		return policy.RetentionPolicy{}, policy.ErrNotConfigured
	}
	return p, nil
}

type fakeGuard struct {
	mu        sync.Mutex
	holds     []hold.LegalHold
	err       error
	snapshots int
	// onSnapshot runs before each snapshot is taken, with the 1-based
	// call number. Tests use it to create holds between pages.
	onSnapshot func(call int)
}

func (f *fakeGuard) Snapshot(context.Context) (hold.Snapshot, error) {
	f.mu.Lock()
	f.snapshots++
	call := f.snapshots
	hook := f.onSnapshot
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return hold.Snapshot{}, f.err
	}
	return hold.NewSnapshot(f.holds), nil
}

func (f *fakeGuard) setHolds(holds []hold.LegalHold) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds = holds
}

type fakeAudit struct {
	mu        sync.Mutex
	entries   []audit.Entry
	readyErr  error
	appendErr error
}

func (f *fakeAudit) Ready(context.Context) error { return f.readyErr }

func (f *fakeAudit) Record(_ context.Context, e audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) RecordGuarded(ctx context.Context, op func(ctx context.Context) (audit.Entry, error)) error {
	entry, err := op(ctx)
	if err != nil {
		return err
	}
	return f.Record(ctx, entry)
}

func (f *fakeAudit) RecordGuardedIn(ctx context.Context, op func(ctx context.Context, tx pgx.Tx) (audit.Entry, error)) error {
	entry, err := op(ctx, nil)
	if err != nil {
		return err
	}
	return f.Record(ctx, entry)
}

func (f *fakeAudit) JobTotals(_ context.Context, jobID string) (audit.Totals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	totals := audit.Totals{}
	for _, e := range f.entries {
		if e.JobID != jobID {
			continue
		}
		tally := totals[e.Action]
		tally.Count++
		if freed, ok := e.Metadata["bytesFreed"].(int64); ok {
			tally.BytesFreed += freed
		}
		totals[e.Action] = tally
	}
	return totals, nil
}

func (f *fakeAudit) byAction(action string) []audit.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []audit.Entry
	for _, e := range f.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakeJobs struct {
	mu             sync.Mutex
	jobs           map[string]*job.PurgeJob
	markRunningErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*job.PurgeJob{}}
}

func (f *fakeJobs) Create(_ context.Context, id, trigger string, categories []string) (job.PurgeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &job.PurgeJob{
		ID:               id,
		Trigger:          trigger,
		TargetCategories: categories,
		Status:           job.StatusPending,
		StartedAt:        time.Now(),
	}
	f.jobs[id] = j
	return *j, nil
}

func (f *fakeJobs) transition(id, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	if j.Status != from {
		return job.ErrInvalidTransition
	}
	j.Status = to
	return nil
}

func (f *fakeJobs) MarkRunning(_ context.Context, id string) error {
	f.mu.Lock()
	injected := f.markRunningErr
	f.mu.Unlock()
	if injected != nil {
		return injected
	}
	return f.transition(id, job.StatusPending, job.StatusRunning)
}

func (f *fakeJobs) finish(id, to string, c job.Counters) error {
	if err := f.transition(id, job.StatusRunning, to); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.RecordsScanned = c.Scanned
	j.RecordsDeleted = c.Deleted
	j.RecordsArchived = c.Archived
	j.RecordsFailed = c.Failed
	j.RecordsWouldPurge = c.WouldPurge
	j.StorageBytesFreed = c.BytesFreed
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (f *fakeJobs) Complete(_ context.Context, id string, c job.Counters) error {
	return f.finish(id, job.StatusCompleted, c)
}

func (f *fakeJobs) Cancel(_ context.Context, id string, c job.Counters) error {
	return f.finish(id, job.StatusCancelled, c)
}

func (f *fakeJobs) Fail(_ context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	// The tracker's Fail accepts pending as well as running.
	if j.Status != job.StatusPending && j.Status != job.StatusRunning {
		return job.ErrInvalidTransition
	}
	j.Status = job.StatusFailed
	j.ErrorMessage = message
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (f *fakeJobs) CancelRequested(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return false, job.ErrNotFound
	}
	return j.CancelRequested, nil
}

func (f *fakeJobs) requestCancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		j.CancelRequested = true
	}
}

func (f *fakeJobs) Get(_ context.Context, id string) (job.PurgeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return job.PurgeJob{}, job.ErrNotFound
	}
	return *j, nil
}

type fakeLocks struct {
	mu     sync.Mutex
	owners map[string]string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{owners: map[string]string{}}
}

func (f *fakeLocks) Acquire(_ context.Context, category, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner, held := f.owners[category]; held && owner != jobID {
		return job.ErrConflict
	}
	f.owners[category] = jobID
	return nil
}

func (f *fakeLocks) Release(_ context.Context, category, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owners[category] == jobID {
		delete(f.owners, category)
	}
	return nil
}

type fakeArchiver struct {
	mu         sync.Mutex
	archived   []string
	deleted    []string
	archiveErr func(blobRef string) error
}

func (f *fakeArchiver) Archive(_ context.Context, blobRef, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.archiveErr != nil {
		if err := f.archiveErr(blobRef); err != nil {
			return err
		}
	}
	f.archived = append(f.archived, blobRef)
	return nil
}

func (f *fakeArchiver) Delete(_ context.Context, blobRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, blobRef)
	return nil
}

type fakeStore struct {
	mu          sync.Mutex
	records     []Record
	softDeleted map[string]bool
	hardDeleted map[string]bool
	unmarked    []string
}

func newFakeStore(records ...Record) *fakeStore {
	return &fakeStore{
		records:     records,
		softDeleted: map[string]bool{},
		hardDeleted: map[string]bool{},
	}
}

func (f *fakeStore) ListEligible(_ context.Context, cutoff time.Time, pageToken string, limit int) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Keyset pagination on record ID, mirroring the real stores; records
	// deleted between pages never shift later pages.
	var eligible []Record
	for _, r := range f.records {
		if f.softDeleted[r.ID] || f.hardDeleted[r.ID] {
			continue
		}
		if pageToken != "" && r.ID <= pageToken {
			continue
		}
		if r.CreatedAt.Before(cutoff) {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return Page{}, nil
	}
	end := limit
	if end > len(eligible) {
		end = len(eligible)
	}
	page := Page{Records: eligible[:end]}
	if end < len(eligible) {
		page.NextToken = eligible[end-1].ID
	}
	return page, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id && !f.hardDeleted[id] {
			return r, nil
		}
	}
	return Record{}, errors.New("record not found")
}

func (f *fakeStore) MarkSoftDeleted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.softDeleted[id] = true
	return nil
}

func (f *fakeStore) UnmarkSoftDeleted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.softDeleted, id)
	f.unmarked = append(f.unmarked, id)
	return nil
}

func (f *fakeStore) HardDelete(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hardDeleted[id] {
		return 0, errors.New("record already deleted")
	}
	f.hardDeleted[id] = true
	for _, r := range f.records {
		if r.ID == id {
			return r.SizeBytes, nil
		}
	}
	return 0, nil
}

// txFakeStore simulates a record store co-located with the audit
// database; its hard deletes ride the audit transaction.
type txFakeStore struct {
	*fakeStore
	txDeletes []string
}

func (f *txFakeStore) HardDeleteIn(ctx context.Context, _ pgx.Tx, id string) (int64, error) {
	n, err := f.HardDelete(ctx, id)
	if err != nil {
		return n, err
	}
	f.mu.Lock()
	f.txDeletes = append(f.txDeletes, id)
	f.mu.Unlock()
	return n, nil
}

func (f *fakeStore) remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if !f.softDeleted[r.ID] && !f.hardDeleted[r.ID] {
			n++
		}
	}
	return n
}

type fixture struct {
	policies *fakePolicies
	guard    *fakeGuard
	audit    *fakeAudit
	jobs     *fakeJobs
	locks    *fakeLocks
	archiver *fakeArchiver
	registry *Registry
	exec     *Executor
}

func newFixture(t *testing.T, categories ...Category) *fixture {
	t.Helper()
	f := &fixture{
		policies: &fakePolicies{byCategory: map[string]policy.RetentionPolicy{}},
		guard:    &fakeGuard{},
		audit:    &fakeAudit{},
		jobs:     newFakeJobs(),
		locks:    newFakeLocks(),
		archiver: &fakeArchiver{},
		registry: NewRegistry(),
	}
	for _, c := range categories {
		if err := f.registry.Register(c); err != nil {
			t.Fatalf("register category: %v", err)
		}
	}
	f.exec = NewExecutor(f.policies, f.guard, f.audit, f.jobs, f.locks, f.archiver, f.registry, Config{
		PageSize:     2,
		MaxParallel:  2,
		OpTimeout:    time.Second,
		MaxAttempts:  1,
		RetryBackoff: time.Millisecond,
		MinRetention: time.Hour,
	})
	return f
}

func exportRecords(n int, age time.Duration) []Record {
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, Record{
			ID:        fmt.Sprintf("exp-%d", i),
			OwnerID:   fmt.Sprintf("user-%d", i%2),
			CreatedAt: time.Now().Add(-age),
			SizeBytes: 100,
			BlobRef:   fmt.Sprintf("blobs/exp-%d", i),
		})
	}
	return records
}

func hardPolicy(category string, retention time.Duration) policy.RetentionPolicy {
	return policy.RetentionPolicy{
		ID:              "pol-" + category,
		DataCategory:    category,
		RetentionPeriod: retention,
		DeletionMode:    policy.ModeHard,
		IsActive:        true,
	}
}

func TestRunHardDeletesExpiredRecords(t *testing.T) {
	old := exportRecords(5, 100*24*time.Hour)
	fresh := Record{ID: "exp-new", OwnerID: "user-0", CreatedAt: time.Now().Add(-time.Hour), SizeBytes: 100}
	store := newFakeStore(append(old, fresh)...)

	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)

	result, err := f.exec.Run(context.Background(), Options{Categories: []string{"exports"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != job.StatusCompleted {
		t.Fatalf("status = %q, want %q", result.Status, job.StatusCompleted)
	}
	if result.RecordsScanned != 5 {
		t.Errorf("recordsScanned = %d, want 5", result.RecordsScanned)
	}
	if result.RecordsDeleted != 5 {
		t.Errorf("recordsDeleted = %d, want 5", result.RecordsDeleted)
	}
	if result.StorageBytesFreed != 500 {
		t.Errorf("storageBytesFreed = %d, want 500", result.StorageBytesFreed)
	}
	if got := len(f.audit.byAction("export_purged")); got != 5 {
		t.Errorf("export_purged entries = %d, want 5", got)
	}
	if store.remaining() != 1 {
		t.Errorf("remaining records = %d, want 1", store.remaining())
	}
	if len(f.archiver.deleted) != 5 {
		t.Errorf("blob deletes = %d, want 5", len(f.archiver.deleted))
	}
}

func TestRunCoLocatedStoreDeletesInAuditTransaction(t *testing.T) {
	store := &txFakeStore{fakeStore: newFakeStore(exportRecords(3, 100*24*time.Hour)...)}
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)

	result, err := f.exec.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RecordsDeleted != 3 {
		t.Errorf("recordsDeleted = %d, want 3", result.RecordsDeleted)
	}
	if len(store.txDeletes) != 3 {
		t.Errorf("transactional deletes = %d, want 3", len(store.txDeletes))
	}
	if got := len(f.audit.byAction("export_purged")); got != 3 {
		t.Errorf("export_purged entries = %d, want 3", got)
	}
}

func TestRunDeletedCountEqualsAuditEntries(t *testing.T) {
	store := newFakeStore(exportRecords(7, 100*24*time.Hour)...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)

	result, err := f.exec.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := int64(len(f.audit.byAction("export_purged"))); got != result.RecordsDeleted {
		t.Fatalf("audit entries = %d, recordsDeleted = %d; must be equal", got, result.RecordsDeleted)
	}
}

func TestRunSkipsHeldRecords(t *testing.T) {
	records := []Record{
		{ID: "m-1", OwnerID: "user-held", CreatedAt: time.Now().Add(-400 * 24 * time.Hour)},
		{ID: "m-2", OwnerID: "user-held", CreatedAt: time.Now().Add(-400 * 24 * time.Hour)},
		{ID: "m-3", OwnerID: "user-free", CreatedAt: time.Now().Add(-400 * 24 * time.Hour)},
	}
	store := newFakeStore(records...)
	f := newFixture(t, Category{Name: "messages", Store: store})
	f.policies.byCategory["messages"] = hardPolicy("messages", 365*24*time.Hour)
	f.guard.holds = []hold.LegalHold{{
		ID:     "hold-1",
		Status: hold.StatusActive,
		Scope:  hold.Scope{UserIDs: []string{"user-held"}},
	}}

	result, err := f.exec.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RecordsDeleted != 1 {
		t.Errorf("recordsDeleted = %d, want 1", result.RecordsDeleted)
	}
	for _, e := range f.audit.byAction("message_purged") {
		if e.ResourceID != "m-3" {
			t.Errorf("held record %s was purged", e.ResourceID)
		}
	}
	if _, err := store.Get(context.Background(), "m-1"); err != nil {
		t.Error("held record m-1 was deleted")
	}
}

func TestRunEmptyScopeHoldProtectsEverything(t *testing.T) {
	store := newFakeStore(exportRecords(6, 100*24*time.Hour)...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)

	// Both scope dimensions empty: the hold covers every owner in every
	// category.
	f.guard.holds = []hold.LegalHold{{ID: "hold-all", Status: hold.StatusActive}}
	result, err := f.exec.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RecordsDeleted != 0 {
		t.Errorf("recordsDeleted = %d, want 0 under a global hold", result.RecordsDeleted)
	}
	if result.RecordsScanned != 6 {
		t.Errorf("recordsScanned = %d, want 6", result.RecordsScanned)
	}
}

func TestRunHoldCreatedMidRunProtectsLaterPages(t *testing.T) {
	// Page size is 2, so exp-0/exp-1 land on page one and exp-2/exp-3
	// on page two. The hold appears after page one was processed.
	records := exportRecords(4, 100*24*time.Hour)
	records[2].OwnerID = "user-late"
	records[3].OwnerID = "user-late"
	store := newFakeStore(records...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)
	f.guard.onSnapshot = func(call int) {
		if call == 2 {
			f.guard.setHolds([]hold.LegalHold{{
				ID:     "hold-late",
				Status: hold.StatusActive,
				Scope:  hold.Scope{UserIDs: []string{"user-late"}},
			}})
		}
	}

	result, err := f.exec.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RecordsScanned != 4 {
		t.Errorf("recordsScanned = %d, want 4", result.RecordsScanned)
	}
	if result.RecordsDeleted != 2 {
		t.Errorf("recordsDeleted = %d, want 2", result.RecordsDeleted)
	}
	if store.remaining() != 2 {
		t.Errorf("remaining records = %d, want 2", store.remaining())
	}
	purged := map[string]bool{}
	for _, e := range f.audit.byAction("export_purged") {
		purged[e.ResourceID] = true
	}
	if !purged["exp-0"] || !purged["exp-1"] {
		t.Errorf("page-one records not purged, entries = %v", purged)
	}
	if purged["exp-2"] || purged["exp-3"] {
		t.Errorf("records of the newly held owner were purged, entries = %v", purged)
	}
}

func TestRunArchiveFailureSkipsDelete(t *testing.T) {
	store := newFakeStore(exportRecords(5, 100*24*time.Hour)...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	pol := hardPolicy("exports", 90*24*time.Hour)
	pol.ArchiveBeforeDelete = true
	pol.ArchiveTarget = "cold/exports"
	f.policies.byCategory["exports"] = pol
	f.archiver.archiveErr = func(blobRef string) error {
		if blobRef == "blobs/exp-2" {
			return errors.New("archive target unavailable")
		}
		return nil
	}

	result, err := f.exec.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != job.StatusCompleted {
		t.Fatalf("status = %q, want completed despite one failed record", result.Status)
	}
	if result.RecordsDeleted != 4 {
		t.Errorf("recordsDeleted = %d, want 4", result.RecordsDeleted)
	}
	if result.RecordsArchived != 4 {
		t.Errorf("recordsArchived = %d, want 4", result.RecordsArchived)
	}
	if result.RecordsFailed != 1 {
		t.Errorf("recordsFailed = %d, want 1", result.RecordsFailed)
	}
	// The record whose archive failed must still exist untouched.
	if _, err := store.Get(context.Background(), "exp-2"); err != nil {
		t.Error("record exp-2 was deleted after its archive failed")
	}
	if got := len(f.audit.byAction("export_archived")); got != 4 {
		t.Errorf("export_archived entries = %d, want 4", got)
	}
}

func TestRunConflictRejectsSecondTrigger(t *testing.T) {
	store := newFakeStore()
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)

	if err := f.locks.Acquire(context.Background(), "exports", "other-job"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	_, err := f.exec.Run(context.Background(), Options{Categories: []string{"exports"}})
	if !errors.Is(err, job.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if len(f.jobs.jobs) != 0 {
		t.Error("a job row was created for a rejected trigger")
	}
}

func TestRunMultiCategoryConflictReleasesAcquiredLocks(t *testing.T) {
	f := newFixture(t,
		Category{Name: "exports", Store: newFakeStore()},
		Category{Name: "messages", Store: newFakeStore()},
	)
	if err := f.locks.Acquire(context.Background(), "messages", "other-job"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	_, err := f.exec.Run(context.Background(), Options{})
	if !errors.Is(err, job.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	// The exports lock acquired before the conflict must be free again.
	if err := f.locks.Acquire(context.Background(), "exports", "next-job"); err != nil {
		t.Errorf("exports lock not released after conflict: %v", err)
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	records := exportRecords(4, 100*24*time.Hour)
	records[0].OwnerID = "user-held"
	store := newFakeStore(records...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)
	f.guard.holds = []hold.LegalHold{{
		ID:     "hold-1",
		Status: hold.StatusActive,
		Scope:  hold.Scope{UserIDs: []string{"user-held"}},
	}}

	result, err := f.exec.Run(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Trigger != job.TriggerDryRun {
		t.Errorf("trigger = %q, want %q", result.Trigger, job.TriggerDryRun)
	}
	if result.Status != job.StatusCompleted {
		t.Errorf("status = %q, want completed", result.Status)
	}
	if result.RecordsScanned != 4 {
		t.Errorf("recordsScanned = %d, want 4", result.RecordsScanned)
	}
	if result.RecordsDeleted != 0 {
		t.Errorf("recordsDeleted = %d, want 0", result.RecordsDeleted)
	}
	// 3 of 4: the held record is excluded, exactly as a real run would
	// skip it.
	if result.RecordsWouldPurge != 3 {
		t.Errorf("recordsWouldPurge = %d, want 3", result.RecordsWouldPurge)
	}
	if len(f.audit.entries) != 0 {
		t.Errorf("audit entries = %d, want 0", len(f.audit.entries))
	}
	if store.remaining() != 4 {
		t.Errorf("remaining records = %d, want 4", store.remaining())
	}
}

func TestRunIsIdempotent(t *testing.T) {
	store := newFakeStore(exportRecords(3, 100*24*time.Hour)...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)

	first, err := f.exec.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.RecordsDeleted != 3 {
		t.Fatalf("first run deleted %d, want 3", first.RecordsDeleted)
	}

	second, err := f.exec.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.RecordsDeleted != 0 || second.RecordsScanned != 0 {
		t.Errorf("second run scanned=%d deleted=%d, want 0/0", second.RecordsScanned, second.RecordsDeleted)
	}
}

func TestRunAuditFailureBlocksSoftDelete(t *testing.T) {
	store := newFakeStore(exportRecords(2, 100*24*time.Hour)...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	pol := hardPolicy("exports", 90*24*time.Hour)
	pol.DeletionMode = policy.ModeSoft
	f.policies.byCategory["exports"] = pol
	f.audit.appendErr = errors.New("ledger unavailable")

	result, err := f.exec.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RecordsFailed != 2 {
		t.Errorf("recordsFailed = %d, want 2", result.RecordsFailed)
	}
	if result.RecordsDeleted != 0 {
		t.Errorf("recordsDeleted = %d, want 0", result.RecordsDeleted)
	}
	// Both soft-delete markers must have been rolled back.
	if store.remaining() != 2 {
		t.Errorf("remaining records = %d, want 2", store.remaining())
	}
	if len(store.unmarked) != 2 {
		t.Errorf("rollbacks = %d, want 2", len(store.unmarked))
	}
}

func TestRunUnavailableAuditSinkStartsNoJob(t *testing.T) {
	f := newFixture(t, Category{Name: "exports", Store: newFakeStore()})
	f.audit.readyErr = errors.New("connection refused")

	_, err := f.exec.Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected error when audit sink is down")
	}
	if len(f.jobs.jobs) != 0 {
		t.Error("a job was created while the audit sink was unavailable")
	}
}

func TestRunSnapshotFailureFailsJob(t *testing.T) {
	store := newFakeStore(exportRecords(3, 100*24*time.Hour)...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)
	f.guard.err = errors.New("holds table unreachable")

	result, err := f.exec.Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected error when hold snapshot is unavailable")
	}
	if result.Status != job.StatusFailed {
		t.Errorf("status = %q, want %q", result.Status, job.StatusFailed)
	}
	if store.remaining() != 3 {
		t.Errorf("remaining records = %d, want 3; nothing may be deleted without hold visibility", store.remaining())
	}
}

func TestRunMarkRunningFailureFailsJobRow(t *testing.T) {
	store := newFakeStore(exportRecords(2, 100*24*time.Hour)...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)
	f.jobs.markRunningErr = errors.New("connection reset")

	_, err := f.exec.Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected error when the running transition fails")
	}
	if len(f.jobs.jobs) != 1 {
		t.Fatalf("job rows = %d, want 1", len(f.jobs.jobs))
	}
	for id := range f.jobs.jobs {
		j, getErr := f.jobs.Get(context.Background(), id)
		if getErr != nil {
			t.Fatalf("get job: %v", getErr)
		}
		if j.Status != job.StatusFailed {
			t.Errorf("status = %q, want failed; a job must never strand in pending", j.Status)
		}
	}
	if len(f.locks.owners) != 0 {
		t.Errorf("locks still held: %v", f.locks.owners)
	}
	if store.remaining() != 2 {
		t.Errorf("remaining records = %d, want 2", store.remaining())
	}
}

func TestRunNoPolicySkipsCategory(t *testing.T) {
	store := newFakeStore(exportRecords(3, 100*24*time.Hour)...)
	f := newFixture(t, Category{Name: "exports", Store: store})

	result, err := f.exec.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != job.StatusCompleted {
		t.Errorf("status = %q, want completed", result.Status)
	}
	if result.RecordsScanned != 0 {
		t.Errorf("recordsScanned = %d, want 0 when no policy is configured", result.RecordsScanned)
	}
	if store.remaining() != 3 {
		t.Errorf("records were deleted without a policy")
	}
}

func TestRunRetentionBelowFloorSkipsCategory(t *testing.T) {
	store := newFakeStore(exportRecords(2, 100*24*time.Hour)...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", time.Minute)

	result, err := f.exec.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RecordsDeleted != 0 || store.remaining() != 2 {
		t.Error("records were deleted under a policy below the retention floor")
	}
}

func TestRunUnknownCategory(t *testing.T) {
	f := newFixture(t, Category{Name: "exports", Store: newFakeStore()})
	_, err := f.exec.Run(context.Background(), Options{Categories: []string{"sessions"}})
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("err = %v, want ErrUnknownCategory", err)
	}
}

func TestRunCancellationStopsBetweenPages(t *testing.T) {
	store := newFakeStore(exportRecords(6, 100*24*time.Hour)...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)

	// Request cancellation as soon as the job exists; the executor
	// checks the flag before fetching each page.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			f.jobs.mu.Lock()
			n := len(f.jobs.jobs)
			f.jobs.mu.Unlock()
			if n > 0 {
				f.jobs.requestCancelAll()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	result, err := f.exec.Run(context.Background(), Options{})
	<-done
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != job.StatusCancelled && result.Status != job.StatusCompleted {
		t.Fatalf("status = %q, want cancelled or completed", result.Status)
	}
	if result.Status == job.StatusCancelled && store.remaining() == 0 {
		// Cancellation before the first page leaves everything intact;
		// counters must still reflect only committed work.
		t.Log("cancelled after all pages were already processed")
	}
}

func TestBeginFinishesInBackground(t *testing.T) {
	store := newFakeStore(exportRecords(3, 100*24*time.Hour)...)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)

	row, err := f.exec.Begin(context.Background(), Options{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if row.Status != job.StatusRunning {
		t.Fatalf("status = %q, want running", row.Status)
	}

	deadline := time.After(5 * time.Second)
	for {
		j, err := f.jobs.Get(context.Background(), row.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if j.Status == job.StatusCompleted {
			if j.RecordsDeleted != 3 {
				t.Errorf("recordsDeleted = %d, want 3", j.RecordsDeleted)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job never completed, status %q", j.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestForcePurgeDeletesRegardlessOfRetention(t *testing.T) {
	fresh := Record{ID: "exp-0", OwnerID: "user-0", CreatedAt: time.Now().Add(-time.Hour), SizeBytes: 50}
	store := newFakeStore(fresh)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)

	result, err := f.exec.ForcePurge(context.Background(), "exports", []string{"exp-0"}, "user request", "admin-1")
	if err != nil {
		t.Fatalf("force purge: %v", err)
	}
	if len(result.Purged) != 1 || result.Purged[0] != "exp-0" {
		t.Fatalf("purged = %v, want [exp-0]", result.Purged)
	}
	if store.remaining() != 0 {
		t.Error("record survived a force purge")
	}
	entries := f.audit.byAction("export_purged")
	if len(entries) != 1 {
		t.Fatalf("export_purged entries = %d, want 1", len(entries))
	}
	if entries[0].Actor != "admin-1" {
		t.Errorf("actor = %q, want admin-1", entries[0].Actor)
	}
	j, err := f.jobs.Get(context.Background(), result.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Trigger != job.TriggerForce || j.Status != job.StatusCompleted {
		t.Errorf("job trigger=%q status=%q, want force/completed", j.Trigger, j.Status)
	}
}

func TestForcePurgeNeverBypassesHold(t *testing.T) {
	rec := Record{ID: "exp-0", OwnerID: "user-held", CreatedAt: time.Now().Add(-time.Hour)}
	store := newFakeStore(rec)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)
	f.guard.holds = []hold.LegalHold{{
		ID:     "hold-1",
		Status: hold.StatusActive,
		Scope:  hold.Scope{UserIDs: []string{"user-held"}},
	}}

	result, err := f.exec.ForcePurge(context.Background(), "exports", []string{"exp-0"}, "cleanup", "admin-1")
	if !errors.Is(err, ErrHoldViolation) {
		t.Fatalf("err = %v, want ErrHoldViolation", err)
	}
	if len(result.Rejected) != 1 || result.Rejected[0] != "exp-0" {
		t.Fatalf("rejected = %v, want [exp-0]", result.Rejected)
	}
	if len(result.Purged) != 0 {
		t.Error("held record was purged")
	}
	if store.remaining() != 1 {
		t.Error("held record was deleted")
	}

	rejections := f.audit.byAction(audit.ActionForcePurgeRejected)
	if len(rejections) != 1 {
		t.Fatalf("rejection entries = %d, want 1", len(rejections))
	}
	e := rejections[0]
	if e.Actor != "admin-1" {
		t.Errorf("actor = %q, want admin-1", e.Actor)
	}
	if e.Metadata["reason"] != "cleanup" {
		t.Errorf("reason = %v, want cleanup", e.Metadata["reason"])
	}
	if got := len(f.audit.byAction("export_purged")); got != 0 {
		t.Errorf("export_purged entries = %d, want 0", got)
	}
}

func TestForcePurgeMixedHoldPurgesUnheld(t *testing.T) {
	held := Record{ID: "exp-0", OwnerID: "user-held", CreatedAt: time.Now().Add(-time.Hour)}
	free := Record{ID: "exp-1", OwnerID: "user-1", CreatedAt: time.Now().Add(-time.Hour), SizeBytes: 50}
	store := newFakeStore(held, free)
	f := newFixture(t, Category{Name: "exports", Store: store})
	f.policies.byCategory["exports"] = hardPolicy("exports", 90*24*time.Hour)
	f.guard.holds = []hold.LegalHold{{
		ID:     "hold-1",
		Status: hold.StatusActive,
		Scope:  hold.Scope{UserIDs: []string{"user-held"}},
	}}

	result, err := f.exec.ForcePurge(context.Background(), "exports", []string{"exp-0", "exp-1"}, "cleanup", "admin-1")
	if err != nil {
		t.Fatalf("force purge: %v", err)
	}
	if len(result.Purged) != 1 || result.Purged[0] != "exp-1" {
		t.Errorf("purged = %v, want [exp-1]", result.Purged)
	}
	if len(result.Rejected) != 1 || result.Rejected[0] != "exp-0" {
		t.Errorf("rejected = %v, want [exp-0]", result.Rejected)
	}
	if store.remaining() != 1 {
		t.Errorf("remaining records = %d, want 1", store.remaining())
	}
}

func TestForcePurgeRequiresRecordIDs(t *testing.T) {
	f := newFixture(t, Category{Name: "exports", Store: newFakeStore()})
	_, err := f.exec.ForcePurge(context.Background(), "exports", nil, "", "admin-1")
	if !errors.Is(err, ErrNoRecordIDs) {
		t.Fatalf("err = %v, want ErrNoRecordIDs", err)
	}
}

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Category{Name: "exports", Store: newFakeStore()}); err != nil {
		t.Fatalf("register: %v", err)
	}
	c, ok := r.Get("exports")
	if !ok {
		t.Fatal("category not found")
	}
	if c.PurgedAction != "export_purged" {
		t.Errorf("purgedAction = %q, want export_purged", c.PurgedAction)
	}
	if c.ArchivedAction != "export_archived" {
		t.Errorf("archivedAction = %q, want export_archived", c.ArchivedAction)
	}
}
