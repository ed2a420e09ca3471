package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// TxnMetrics holds the metric instruments of the coordinator's 2PC rounds.
type TxnMetrics struct {
	TxnStartedCounter           metric.Int64Counter
	TxnCommittedCounter         metric.Int64Counter
	TxnAbortedCounter           metric.Int64Counter
	PrepareLatencyHistogram     metric.Int64Histogram
	DeliveryFailuresCounter     metric.Int64Counter
	ClusterMembersUpDownCounter metric.Int64UpDownCounter
}

// NewTxnMetrics creates and registers the coordinator metrics.
func NewTxnMetrics(meter metric.Meter) (*TxnMetrics, error) {
	txnStarted, err := meter.Int64Counter(
		"uds.txn.started",
		metric.WithDescription("Total number of transactions that entered the prepare phase."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	txnCommitted, err := meter.Int64Counter(
		"uds.txn.committed",
		metric.WithDescription("Total number of committed transactions."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	txnAborted, err := meter.Int64Counter(
		"uds.txn.aborted",
		metric.WithDescription("Total number of rolled back transactions."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	prepareLatency, err := meter.Int64Histogram(
		"uds.txn.prepare.duration",
		metric.WithDescription("Latency of the prepare phase of a round."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deliveryFailures, err := meter.Int64Counter(
		"uds.txn.delivery_failures",
		metric.WithDescription("Commit or rollback messages that did not reach a replica."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	members, err := meter.Int64UpDownCounter(
		"uds.cluster.members",
		metric.WithDescription("Number of replicas known to the coordinator."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &TxnMetrics{
		TxnStartedCounter:           txnStarted,
		TxnCommittedCounter:         txnCommitted,
		TxnAbortedCounter:           txnAborted,
		PrepareLatencyHistogram:     prepareLatency,
		DeliveryFailuresCounter:     deliveryFailures,
		ClusterMembersUpDownCounter: members,
	}, nil
}
