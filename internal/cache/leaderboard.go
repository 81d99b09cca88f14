package cache

import "sort"

// UpdateTopN places the user in the leaderboard according to its current
// cached score. Users unknown to the cache are ignored. Returns true when
// the leaderboard changed.
func (m *Manager) UpdateTopN(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTopNLocked(userID)
}

// GetTopN returns the leaderboard ids, best first
func (m *Manager) GetTopN() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]int64, len(m.tops))
	copy(out, m.tops)
	return out
}

func (m *Manager) updateTopNLocked(id int64) bool {
	u, ok := m.users[id]
	if !ok {
		return false
	}
	score := u.Score

	if idx := indexOf(m.tops, id); idx >= 0 {
		if m.rankHoldsLocked(idx, score) {
			return false
		}
		m.tops = append(m.tops[:idx], m.tops[idx+1:]...)
	}

	// Equal scores go after existing entries so earlier arrivals keep rank.
	pos := len(m.tops)
	for i, other := range m.tops {
		if score > m.scoreLocked(other) {
			pos = i
			break
		}
	}
	if pos >= m.topSize {
		return false
	}

	m.tops = append(m.tops, 0)
	copy(m.tops[pos+1:], m.tops[pos:])
	m.tops[pos] = id
	if len(m.tops) > m.topSize {
		m.tops = m.tops[:m.topSize]
	}
	return true
}

func (m *Manager) rankHoldsLocked(idx, score int) bool {
	if idx > 0 && m.scoreLocked(m.tops[idx-1]) < score {
		return false
	}
	if idx < len(m.tops)-1 && m.scoreLocked(m.tops[idx+1]) > score {
		return false
	}
	return true
}

func (m *Manager) scoreLocked(id int64) int {
	if u, ok := m.users[id]; ok {
		return u.Score
	}
	return -1
}

// setTopsLocked installs a persisted leaderboard, dropping unknown and
// duplicate ids and restoring order and bound
func (m *Manager) setTopsLocked(ids []int64) {
	seen := make(map[int64]struct{}, len(ids))
	tops := make([]int64, 0, m.topSize)
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		if _, known := m.users[id]; !known {
			continue
		}
		seen[id] = struct{}{}
		tops = append(tops, id)
	}

	sort.SliceStable(tops, func(i, j int) bool {
		return m.scoreLocked(tops[i]) > m.scoreLocked(tops[j])
	})
	if len(tops) > m.topSize {
		tops = tops[:m.topSize]
	}
	m.tops = tops
}

func indexOf(ids []int64, id int64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
