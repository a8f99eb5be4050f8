package events

// Event identifies a topic on the bus.
type Event string

const (
	EventOrderSubmitted Event = "order.submitted"
	EventOrderFilled    Event = "order.filled"
	EventOrderRejected  Event = "order.rejected"
	EventTradeExecuted  Event = "trade.executed"
	EventTradeClosed    Event = "trade.closed"
	EventRiskAlert      Event = "risk.alert"
	EventPriceTick      Event = "price.tick"
)
