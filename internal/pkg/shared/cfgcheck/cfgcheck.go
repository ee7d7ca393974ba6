// Copyright (c) 2018 PT Defender Nusa Semesta and contributors, All rights reserved.
//
// This file is part of Dpull.
//
// Dpull is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation version 3 of the License.
//
// Dpull is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Dpull. If not, see <https://www.gnu.org/licenses/>.

// Package cfgcheck runs presence and format checks on plugin configuration
// structs tagged with `validate:"..."`.
package cfgcheck

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their json name, that's what users write in config
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// FieldError is a single failed check
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors holds all failed checks of a struct
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(e))
	for i, fe := range e {
		messages[i] = fe.Message
	}
	return strings.Join(messages, "; ")
}

// Struct checks cfg against its validate tags and returns Errors describing
// every failed field, in declaration order. A cfg implementing
// interface{ Check() error } gets that called after the tag checks pass.
func Struct(cfg interface{}) error {
	err := validate.Struct(cfg)
	if err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Wrap(err, "cannot validate configuration")
		}
		out := Errors{}
		for _, e := range verrs {
			out = append(out, FieldError{Field: e.Field(), Message: message(e)})
		}
		return out
	}
	if c, ok := cfg.(interface{ Check() error }); ok {
		if err := c.Check(); err != nil {
			return Errors{{Field: "_custom", Message: err.Error()}}
		}
	}
	return nil
}

func message(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is a required field", field)
	case "url", "http_url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "min":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "cidr":
		return fmt.Sprintf("%s must be a CIDR network", field)
	}
	return fmt.Sprintf("%s failed %s validation", field, e.Tag())
}
