package quota

import "strconv"

const DefaultLocalPart = "fabri"

// Registry generates the rotating sender identities of a channel.
type Registry struct {
	LocalPart string
}

// Senders returns local@domain, local1@domain, ..., local(count-1)@domain.
// The order is stable across runs; callers must iterate it as given so that
// low-numbered senders are consumed first.
func (r Registry) Senders(count int, domain string) []string {
	if count <= 0 {
		return nil
	}
	local := r.LocalPart
	if local == "" {
		local = DefaultLocalPart
	}

	senders := make([]string, 0, count)
	senders = append(senders, local+"@"+domain)
	for i := 1; i < count; i++ {
		senders = append(senders, local+strconv.Itoa(i)+"@"+domain)
	}
	return senders
}
