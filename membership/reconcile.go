package membership

import "github.com/relaymesh/dataplane/upstream"

// reconcileHosts implements the host reconciliation algorithm of
// spec.md §4.3: given newHosts (freshly built from an update) and
// currentHosts (the priority's existing hosts), it returns the hosts
// added, the hosts removed, and the merged current list, in newHosts'
// order, reusing existing *upstream.Host pointers (and their mutable
// state) wherever the address matches.
func reconcileHosts(newHosts, currentHosts []*upstream.Host) (added, removed, merged []*upstream.Host) {
	byAddr := make(map[string]*upstream.Host, len(currentHosts))
	for _, h := range currentHosts {
		byAddr[h.Address.String()] = h
	}

	merged = make([]*upstream.Host, 0, len(newHosts))
	for _, nh := range newHosts {
		key := nh.Address.String()
		if existing, ok := byAddr[key]; ok {
			existing.SetWeight(nh.Weight())
			existing.SetMetadata(nh.Metadata())
			existing.SetLocality(nh.Locality())
			merged = append(merged, existing)
			delete(byAddr, key)
			continue
		}
		merged = append(merged, nh)
		added = append(added, nh)
	}

	for _, h := range byAddr {
		removed = append(removed, h)
	}
	return added, removed, merged
}
