package repository

import "errors"

var (
	ErrDuplicateCart = errors.New("cart already exists")
	ErrDuplicateItem = errors.New("cart already holds an item for this product")
)
