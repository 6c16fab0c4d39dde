package imap

import (
	"reflect"
	"slices"
)

// FlagSet represents the action to take on a flag
type FlagSet int

const (
	FlagUnset FlagSet = iota
	FlagAdd
	FlagRemove
)

// Flags represents standard IMAP message flags
type Flags struct {
	Seen     FlagSet
	Answered FlagSet
	Flagged  FlagSet
	Deleted  FlagSet
	Draft    FlagSet
	// Keywords maps keyword flags such as $Forwarded to add (true) or
	// remove (false)
	Keywords map[string]bool
}

// changes splits f into the flags to add and the flags to remove
func (f Flags) changes() (add, remove []string) {
	v := reflect.ValueOf(f)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type != reflect.TypeOf(FlagUnset) {
			continue
		}
		switch FlagSet(v.Field(i).Int()) {
		case FlagAdd:
			add = append(add, `\`+field.Name)
		case FlagRemove:
			remove = append(remove, `\`+field.Name)
		}
	}
	for keyword, state := range f.Keywords {
		if state {
			add = append(add, keyword)
		} else {
			remove = append(remove, keyword)
		}
	}
	// map order is random
	slices.Sort(add)
	slices.Sort(remove)
	return add, remove
}
