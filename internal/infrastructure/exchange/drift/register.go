package drift

import (
	"pnlrelay/internal/application/port"
	"pnlrelay/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register(FeedName, func(opts pricefeed.Options) port.PriceFeed {
		return NewTradesFeed(opts)
	})
}
