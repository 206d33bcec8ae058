package messaging

// Snapshot is the serializable projection of a Message sent over the channel.
type Snapshot struct {
	ID        string `json:"id"`
	AutoTrack bool   `json:"autoTrack"`
	URL       string `json:"url,omitempty"`
}

// NewSnapshot reads the public fields of m at call time.
func NewSnapshot(m Message) Snapshot {
	s := Snapshot{
		ID:        m.ID(),
		AutoTrack: m.AutoTrack(),
	}
	if u, ok := m.(URLer); ok {
		s.URL = u.URL()
	}
	return s
}

// Snapshots projects every message in ms.
func Snapshots(ms []Message) []Snapshot {
	out := make([]Snapshot, 0, len(ms))
	for _, m := range ms {
		out = append(out, NewSnapshot(m))
	}
	return out
}

// Envelope is the {"message": snapshot} payload of lifecycle and gating calls.
type Envelope struct {
	Message Snapshot `json:"message"`
}

// URLEnvelope is the urlLoaded payload.
type URLEnvelope struct {
	URL     string   `json:"url"`
	Message Snapshot `json:"message"`
}
