package pg

// nilStr converts an empty string to nil so it is stored as SQL NULL
// instead of an empty string, matching the column defaults in
// migrations/0001_init.up.sql.
func nilStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
