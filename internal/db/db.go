package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"paintops/internal/auth"
	"paintops/internal/feed"
	"paintops/internal/jobs"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&auth.User{},
		&jobs.Phase{},
		&jobs.Property{},
		&jobs.JobType{},
		&jobs.Record{},
		&jobs.PhaseChange{},
		&feed.Entry{},
	); err != nil {
		return err
	}

	// Change feed: every row change on jobs and every transition record lands
	// in the outbox and wakes the relay.
	for _, s := range triggerSQL {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("trigger exec failed: %w", err)
		}
	}

	// Helpful indexes
	stmts := []string{
		`create index if not exists idx_jobs_phase_updated on jobs(current_phase_id, updated_at desc);`,
		`create index if not exists idx_jobs_phase_created on jobs(current_phase_id, created_at desc);`,
		`create index if not exists idx_jobs_phase_scheduled on jobs(current_phase_id, scheduled_date);`,
		`create index if not exists idx_phase_changes_job on job_phase_changes(job_id, created_at desc);`,
		`create index if not exists idx_change_events_due on change_events(status, run_at);`,
		`create index if not exists idx_change_events_lock on change_events(status, locked_at);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}

var triggerSQL = []string{
	`
create or replace function paintops_job_change() returns trigger as $$
begin
  if tg_op = 'DELETE' then
    insert into change_events(source_table, op, row_id, job_id, old_phase_id)
    values ('jobs', tg_op, old.id, old.id, old.current_phase_id);
  elsif tg_op = 'UPDATE' then
    insert into change_events(source_table, op, row_id, job_id, phase_id, old_phase_id)
    values ('jobs', tg_op, new.id, new.id, new.current_phase_id, old.current_phase_id);
  else
    insert into change_events(source_table, op, row_id, job_id, phase_id)
    values ('jobs', tg_op, new.id, new.id, new.current_phase_id);
  end if;
  perform pg_notify('change_events', '');
  return null;
end;
$$ language plpgsql;
`,
	`
create or replace function paintops_phase_change() returns trigger as $$
begin
  insert into change_events(source_table, op, row_id, job_id, phase_id, old_phase_id)
  values ('job_phase_changes', tg_op, new.id, new.job_id, new.to_phase_id, new.from_phase_id);
  perform pg_notify('change_events', '');
  return null;
end;
$$ language plpgsql;
`,
	`drop trigger if exists trg_jobs_change on jobs;`,
	`create trigger trg_jobs_change after insert or update or delete on jobs
  for each row execute function paintops_job_change();`,
	`drop trigger if exists trg_phase_changes_insert on job_phase_changes;`,
	`create trigger trg_phase_changes_insert after insert on job_phase_changes
  for each row execute function paintops_phase_change();`,
}
