package events

import "strings"

// Exchange and queue names shared with the rest of the manufacturing system.
const (
	ProduceExchange   = "machine"
	CancelExchange    = "machine_cancel"
	CancelQueue       = "machine.piece.cancel"
	PublicKeyExchange = "public_key"
	PublicKeyQueue    = "client.public_key.machine"

	produceRoutingPrefix = "machine.piece.produce"
)

// ProduceRoutingKey returns the routing key that carries work for a machine type.
func ProduceRoutingKey(pieceType string) string {
	pieceType = strings.TrimSpace(pieceType)
	if pieceType == "" {
		return produceRoutingPrefix
	}
	return produceRoutingPrefix + "." + pieceType
}

// ProduceSubscription binds the per-type produce queue.
func ProduceSubscription(pieceType string) Subscription {
	key := ProduceRoutingKey(pieceType)
	return Subscription{
		Name:       "produce",
		Exchange:   ProduceExchange,
		Kind:       ExchangeTopic,
		Queue:      key,
		RoutingKey: key,
	}
}

// CancelSubscription binds the cancellation fanout. Each machine type gets its
// own queue: consumers of one named queue compete, and every instance must
// see every cancel.
func CancelSubscription(pieceType string) Subscription {
	return Subscription{
		Name:     "cancel",
		Exchange: CancelExchange,
		Kind:     ExchangeFanout,
		Queue:    instanceQueue(CancelQueue, pieceType),
	}
}

// PublicKeySubscription binds the auth service key rotation fanout, one queue
// per machine type.
func PublicKeySubscription(pieceType string) Subscription {
	return Subscription{
		Name:     "public_key",
		Exchange: PublicKeyExchange,
		Kind:     ExchangeFanout,
		Queue:    instanceQueue(PublicKeyQueue, pieceType),
	}
}

func instanceQueue(base, pieceType string) string {
	pieceType = strings.TrimSpace(pieceType)
	if pieceType == "" {
		return base
	}
	return base + "." + pieceType
}

// MatchRoutingKey applies AMQP topic matching: '*' matches one word and '#'
// matches zero or more words.
func MatchRoutingKey(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern = pattern[1:]
		key = key[1:]
	}
	return len(key) == 0
}
