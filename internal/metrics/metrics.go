package metrics

import "expvar"

var (
	SpinsIngested   = expvar.NewInt("spins_ingested")
	BetsPlaced      = expvar.NewInt("bets_placed")
	BetsWon         = expvar.NewInt("bets_won")
	Retrains        = expvar.NewInt("retrains")
	RetrainFailures = expvar.NewInt("retrain_failures")
	Reconnects      = expvar.NewInt("reconnects")
	ModelVersion    = expvar.NewInt("model_version")
	Balance         = expvar.NewString("balance")
)
