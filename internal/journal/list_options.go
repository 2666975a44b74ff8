package journal

// SortOrder controls how List results are ordered.
type SortOrder string

const (
	SortByUpdatedDesc SortOrder = "updated_desc"
	SortByUpdatedAsc  SortOrder = "updated_asc"
)

const defaultListLimit = 50

// ListOptions filters and bounds a List or Stats call.
type ListOptions struct {
	Statuses   []Status
	Kinds      []Kind
	UpdatedGTE int64
	UpdatedLTE int64
	Limit      int
	Order      SortOrder
}

func (o *ListOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Order == "" {
		o.Order = SortByUpdatedDesc
	}
}

func (o ListOptions) matches(entry *Entry) bool {
	if len(o.Statuses) > 0 {
		matched := false
		for _, status := range o.Statuses {
			if entry.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(o.Kinds) > 0 {
		matched := false
		for _, kind := range o.Kinds {
			if entry.Kind == kind {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if o.UpdatedGTE > 0 && entry.UpdatedAt < o.UpdatedGTE {
		return false
	}
	if o.UpdatedLTE > 0 && entry.UpdatedAt > o.UpdatedLTE {
		return false
	}
	return true
}
