package scheduler

import (
	"context"
	"time"

	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
)

// Kind identifies a scheduled job
type Kind string

const (
	KindAutoDownload      Kind = "auto_download"
	KindAccountRefresh    Kind = "account_refresh"
	KindStatusSync        Kind = "status_sync"
	KindExpiredCheck      Kind = "expired_check"
	KindDynamicDelete     Kind = "dynamic_delete"
	KindUnregisteredCheck Kind = "unregistered_check"
	KindHRSync            Kind = "hr_sync"
	KindStatsSnapshot     Kind = "stats_snapshot"
)

// Kinds lists every job in display order
var Kinds = []Kind{
	KindAutoDownload,
	KindAccountRefresh,
	KindStatusSync,
	KindExpiredCheck,
	KindDynamicDelete,
	KindUnregisteredCheck,
	KindHRSync,
	KindStatsSnapshot,
}

var kindNames = map[Kind]string{
	KindAutoDownload:      "Auto download",
	KindAccountRefresh:    "Account refresh",
	KindStatusSync:        "Status sync",
	KindExpiredCheck:      "Expired promotion check",
	KindDynamicDelete:     "Capacity cleanup",
	KindUnregisteredCheck: "Unregistered torrent check",
	KindHRSync:            "H&R sync",
	KindStatsSnapshot:     "Stats snapshot",
}

// statsSnapshotInterval is fixed, the snapshot job cannot be disabled
const statsSnapshotInterval = 10 * time.Minute

// JobFunc is one unit of scheduled work
type JobFunc func(ctx context.Context) (*controllers.Report, error)

// Jobs maps each kind to the work it runs
type Jobs map[Kind]JobFunc

// NewJobs binds every job kind to its controller
func NewJobs(
	rules *controllers.RuleEngine,
	accounts *controllers.AccountService,
	status *controllers.StatusSyncer,
	autoDelete *controllers.AutoDeleteEngine,
	hr *controllers.HRTracker,
	stats *controllers.StatsCollector,
) Jobs {
	return Jobs{
		KindAutoDownload:   rules.RunAll,
		KindAccountRefresh: accounts.RefreshAll,
		KindStatusSync:     status.Sync,
		KindExpiredCheck: func(ctx context.Context) (*controllers.Report, error) {
			return autoDelete.Sweep(ctx, controllers.PolicyExpired)
		},
		KindDynamicDelete: func(ctx context.Context) (*controllers.Report, error) {
			return autoDelete.Sweep(ctx, controllers.PolicyCapacity)
		},
		KindUnregisteredCheck: func(ctx context.Context) (*controllers.Report, error) {
			return autoDelete.Sweep(ctx, controllers.PolicyUnregistered)
		},
		KindHRSync: hr.SyncAll,
		KindStatsSnapshot: func(ctx context.Context) (*controllers.Report, error) {
			if _, err := stats.Snapshot(ctx); err != nil {
				return nil, err
			}
			report := controllers.NewReport()
			report.Processed = 1
			return report, nil
		},
	}
}

// plan returns whether a job is armed and its period under cfg
func plan(cfg models.ScheduleConfig, kind Kind) (bool, time.Duration) {
	iv, on := cfg.Intervals, cfg.Control
	minutes := func(m int) time.Duration { return time.Duration(m) * time.Minute }

	switch kind {
	case KindAutoDownload:
		return on.AutoDownload, minutes(iv.AutoDownload)
	case KindAccountRefresh:
		return on.AccountRefresh, minutes(iv.AccountRefresh)
	case KindStatusSync:
		return on.StatusSync, minutes(iv.StatusSync)
	case KindExpiredCheck:
		return on.ExpiredCheck, minutes(iv.ExpiredCheck)
	case KindDynamicDelete:
		return on.DynamicDelete, minutes(iv.DynamicDelete)
	case KindUnregisteredCheck:
		return on.UnregisteredCheck, minutes(iv.UnregisteredCheck)
	case KindHRSync:
		return on.HRSync, minutes(iv.HRSync)
	case KindStatsSnapshot:
		return true, statsSnapshotInterval
	}
	return false, 0
}
