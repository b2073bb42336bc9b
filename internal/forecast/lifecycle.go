package forecast

// Status is the lifecycle classification of an entity
type Status string

const (
	StatusActive       Status = "active"
	StatusClosed       Status = "closed"
	StatusInsufficient Status = "insufficient_data"
)

// closedWindow is the number of trailing periods that must all be non-positive
// for an entity to count as closed
const closedWindow = 3

// Classify labels an entity from its truncated history. Closed wins over
// insufficient: a fully silent recent window means the line was shut down,
// however sparse the earlier history. The classification is independent of
// the model used and is applied uniformly after any strategy; closed
// entities have their forecast forced to zero by the caller.
func Classify(series []float64) Status {
	if len(series) >= closedWindow {
		closed := true
		for _, v := range series[len(series)-closedWindow:] {
			if v > 0 {
				closed = false
				break
			}
		}
		if closed {
			return StatusClosed
		}
	}
	if nonzeroCount(series) < 2 {
		return StatusInsufficient
	}
	return StatusActive
}
