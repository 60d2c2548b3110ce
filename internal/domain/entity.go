package domain

// EntityType names one of the three lifecycles the booking pipeline tracks.
type EntityType string

const (
	EntityPayment EntityType = "payment"
	EntitySession EntityType = "session"
	EntityVideo   EntityType = "video"
)

func (e EntityType) String() string {
	return string(e)
}
