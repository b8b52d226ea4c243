package rtti

// GetField returns the value of the named field of obj, searching obj's type
// and its bases. Array fields are returned as a slice of their elements,
// references as their Go pointer or interface type.
func GetField(obj Reflectable, name string) (any, error) {
	typ := obj.RTTI()
	f, recv, err := typ.findField(obj, name)
	if err != nil {
		return nil, err
	}
	return f.value(recv), nil
}

// SetField assigns v to the named field of obj. v must have the field's Go
// type (a slice of it for array fields); nil assigns the zero value.
func SetField(obj Reflectable, name string, v any) error {
	typ := obj.RTTI()
	f, recv, err := typ.findField(obj, name)
	if err != nil {
		return err
	}
	if err := f.setValue(recv, v); err != nil {
		return fieldErrf(f.Owner(), name, -1, err, "")
	}
	return nil
}

// ArrayLen returns the number of elements of the named array field.
func ArrayLen(obj Reflectable, name string) (int, error) {
	f, recv, err := findArrayField(obj, name)
	if err != nil {
		return 0, err
	}
	return f.length(recv), nil
}

// SetArrayLen resizes the named array field. New elements are zero.
func SetArrayLen(obj Reflectable, name string, n int) error {
	f, recv, err := findArrayField(obj, name)
	if err != nil {
		return err
	}
	if n < 0 {
		return fieldErrf(f.Owner(), name, n, ErrIndexOutOfRange, "negative length")
	}
	f.resize(recv, n)
	return nil
}

// GetElem returns element i of the named array field.
func GetElem(obj Reflectable, name string, i int) (any, error) {
	f, recv, err := findArrayField(obj, name)
	if err != nil {
		return nil, err
	}
	v, err := f.elem(recv, i)
	if err != nil {
		return nil, fieldErrf(f.Owner(), name, i, err, "")
	}
	return v, nil
}

// SetElem assigns element i of the named array field.
func SetElem(obj Reflectable, name string, i int, v any) error {
	f, recv, err := findArrayField(obj, name)
	if err != nil {
		return err
	}
	if err := f.setElem(recv, i, v); err != nil {
		return fieldErrf(f.Owner(), name, i, err, "")
	}
	return nil
}

func findArrayField(obj Reflectable, name string) (arrayField, any, error) {
	typ := obj.RTTI()
	f, recv, err := typ.findField(obj, name)
	if err != nil {
		return nil, nil, err
	}
	af, ok := f.(arrayField)
	if !ok {
		return nil, nil, fieldErrf(f.Owner(), name, -1, ErrBadType, "not an array")
	}
	return af, recv, nil
}
