package redis

// DefaultPrefix namespaces every key the adapter writes.
const DefaultPrefix = "stageflow:"

func (s *Store) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *Store) sessionIndexKey() string {
	return s.prefix + "sessions"
}

func (s *Store) seqKey() string {
	return s.prefix + "seq"
}

func (s *Store) instanceKey(id string) string {
	return s.prefix + "instance:" + id
}

// instanceListKey holds a session's instance ids in creation order.
func (s *Store) instanceListKey(sessionID string) string {
	return s.prefix + "session:" + sessionID + ":instances"
}
