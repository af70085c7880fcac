// README: Pickup/dropoff descriptor: human-readable label plus coordinate.
package types

type Place struct {
	Label string `json:"label"`
	Point Point  `json:"point"`
}
