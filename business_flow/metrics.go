package businessflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	identifiersAllocatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_identifiers_allocated_total",
			Help: "Display identifiers allocated, by entity kind",
		},
		[]string{"entity_kind"},
	)

	sagaStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_completion_sagas_started_total",
			Help: "Encounter completion sagas started",
		},
	)

	sagaCommittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_completion_sagas_committed_total",
			Help: "Encounter completion sagas committed",
		},
	)

	sagaCompensatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_completion_sagas_compensated_total",
			Help: "Encounter completion sagas rolled back through compensation",
		},
	)

	sagaRecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_completion_sagas_recovered_total",
			Help: "Stuck sagas resolved by the recovery pass, by outcome",
		},
		[]string{"outcome"},
	)
)
