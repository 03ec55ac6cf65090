package store

import (
	"errors"

	"github.com/samber/oops"
)

var ErrBadUpdate = errors.New("store: bad update")

// Update mirrors the document-store modifier operators. Each field maps a
// dotted path to its argument:
//
//	Set       $set
//	Unset     $unset
//	Inc       $inc
//	AddToSet  $addToSet: {$each: [...]}
//	Pull      $pull
//
// Applying an Update to one document is atomic in every backend.
type Update struct {
	Set      map[string]any
	Unset    []string
	Inc      map[string]float64
	AddToSet map[string][]any
	Pull     map[string]any
}

func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0 && len(u.Inc) == 0 && len(u.AddToSet) == 0 && len(u.Pull) == 0
}

// Apply mutates d in place. The _id field cannot be changed.
func (u Update) Apply(d Doc) error {
	for path, v := range u.Set {
		if path == IDField {
			return oops.Wrapf(ErrBadUpdate, "$set %s", IDField)
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return oops.Wrapf(ErrBadUpdate, "$set %s: %v", path, err)
		}
		d.Set(path, nv)
	}
	for _, path := range u.Unset {
		if path == IDField {
			return oops.Wrapf(ErrBadUpdate, "$unset %s", IDField)
		}
		d.Unset(path)
	}
	for path, delta := range u.Inc {
		cur, ok := d.Get(path)
		if !ok {
			d.Set(path, delta)
			continue
		}
		n, isNum := toFloat(cur)
		if !isNum {
			return oops.Wrapf(ErrBadUpdate, "$inc non-numeric field %s", path)
		}
		d.Set(path, n+delta)
	}
	for path, items := range u.AddToSet {
		arr, err := arrayAt(d, path)
		if err != nil {
			return err
		}
		for _, item := range items {
			nv, err := normalizeValue(item)
			if err != nil {
				return oops.Wrapf(ErrBadUpdate, "$addToSet %s: %v", path, err)
			}
			if !containsValue(arr, nv) {
				arr = append(arr, nv)
			}
		}
		d.Set(path, arr)
	}
	for path, item := range u.Pull {
		cur, ok := d.Get(path)
		if !ok {
			continue
		}
		arr, isArr := cur.([]any)
		if !isArr {
			return oops.Wrapf(ErrBadUpdate, "$pull non-array field %s", path)
		}
		kept := make([]any, 0, len(arr))
		for _, el := range arr {
			if !valuesEqual(el, item) {
				kept = append(kept, el)
			}
		}
		d.Set(path, kept)
	}
	return nil
}

func arrayAt(d Doc, path string) ([]any, error) {
	cur, ok := d.Get(path)
	if !ok || cur == nil {
		return []any{}, nil
	}
	arr, isArr := cur.([]any)
	if !isArr {
		return nil, oops.Wrapf(ErrBadUpdate, "$addToSet non-array field %s", path)
	}
	return arr, nil
}

func containsValue(arr []any, v any) bool {
	for _, el := range arr {
		if valuesEqual(el, v) {
			return true
		}
	}
	return false
}
