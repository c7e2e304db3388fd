// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// HOST_PROC is a Unix path even when validated on another OS.
		_ = validate.RegisterValidation("abspath", func(fl validator.FieldLevel) bool {
			p := fl.Field().String()
			return path.IsAbs(p) || filepath.IsAbs(p)
		})
	})
	return validate
}

// Validate checks cfg against its struct tags.
func Validate(cfg Config) error {
	err := getValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := fmt.Sprintf("%s: failed %q", e.Field(), e.Tag())
		if e.Param() != "" {
			msg += fmt.Sprintf(" (expected %s)", e.Param())
		}
		msg += fmt.Sprintf(", got %v", e.Value())
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
