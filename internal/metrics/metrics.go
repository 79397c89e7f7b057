package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Moderation case metrics
var (
	CasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bastion_cases_total",
		Help: "Total number of moderation cases created",
	}, []string{"kind", "path"})

	CasesAdoptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bastion_cases_adopted_total",
		Help: "Pending cases confirmed by a platform event",
	}, []string{"kind"})

	CaseRollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bastion_case_rollbacks_total",
		Help: "Pending cases deleted after a failed enforcement call",
	}, []string{"kind"})

	CasesSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastion_cases_swept_total",
		Help: "Pending cases confirmed by the stale-pending sweep",
	})

	PendingCases = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bastion_pending_cases",
		Help: "Number of cases currently awaiting confirmation",
	})

	ModLogFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastion_modlog_failures_total",
		Help: "Mod-log messages that could not be posted or edited",
	})
)

// Leveling metrics
var (
	MessagesRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastion_messages_recorded_total",
		Help: "Total number of messages counted toward levels",
	})
)

// Mute evasion metrics
var (
	MuteEvasionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bastion_mute_evasions_total",
		Help: "Mute evasion markers by event (recorded, reapplied, failed)",
	}, []string{"event"})
)

// Storage metrics
var (
	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bastion_store_errors_total",
		Help: "Store failures that caused an event to be dropped",
	}, []string{"op"})
)

// Cache metrics
var (
	GuildConfigCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastion_guild_config_cache_hits_total",
		Help: "Guild config lookups served from cache",
	})

	GuildConfigCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastion_guild_config_cache_misses_total",
		Help: "Guild config lookups that went to the store",
	})
)
