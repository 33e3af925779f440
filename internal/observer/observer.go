// Package observer is the opaque sink the relayer's core logs domain
// events through, standing in for the metrics/Sentry transport that is out
// of scope for the core relayer (spec §1).
package observer

import "go.uber.org/zap"

// Observer receives best-effort notifications of domain events. Every
// method must be non-blocking and must never panic; callers treat it as
// fire-and-forget.
type Observer interface {
	AuctionStarted(auctionID, taker string)
	BidSubmitted(auctionID, maker string, accepted bool)
	VaultQuotePublished(chainID int64, vault string, accepted bool, reason string)
}

// NullObserver discards every event. Used when no sink is configured.
type NullObserver struct{}

func (NullObserver) AuctionStarted(auctionID, taker string)                                  {}
func (NullObserver) BidSubmitted(auctionID, maker string, accepted bool)                      {}
func (NullObserver) VaultQuotePublished(chainID int64, vault string, accepted bool, reason string) {}

// LoggingObserver writes every event as a structured zap log line.
type LoggingObserver struct {
	log *zap.Logger
}

// NewLoggingObserver wraps log for use as an Observer.
func NewLoggingObserver(log *zap.Logger) *LoggingObserver {
	return &LoggingObserver{log: log}
}

func (o *LoggingObserver) AuctionStarted(auctionID, taker string) {
	o.log.Info("auction started", zap.String("auctionId", auctionID), zap.String("taker", taker))
}

func (o *LoggingObserver) BidSubmitted(auctionID, maker string, accepted bool) {
	o.log.Info("bid submitted",
		zap.String("auctionId", auctionID),
		zap.String("maker", maker),
		zap.Bool("accepted", accepted),
	)
}

func (o *LoggingObserver) VaultQuotePublished(chainID int64, vault string, accepted bool, reason string) {
	o.log.Info("vault quote publish",
		zap.Int64("chainId", chainID),
		zap.String("vault", vault),
		zap.Bool("accepted", accepted),
		zap.String("reason", reason),
	)
}
