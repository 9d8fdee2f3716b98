package capi

import "github.com/pkg/errors"

func errUnknownHandle(h Handle) error {
	return errors.Errorf("no predictor for handle %d", h)
}

