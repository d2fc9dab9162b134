package server

import (
	"net/mail"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validationsOnce sync.Once

// registerValidations adds the "mailbox" tag to gin's validator. It accepts
// anything the provider accepts as an address: "a@b.com" or "Name <a@b.com>".
func registerValidations() {
	validationsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			zap.L().Warn("registerValidations: gin validator engine is not go-playground/validator")
			return
		}
		if err := v.RegisterValidation("mailbox", validMailbox); err != nil {
			zap.L().Error("registerValidations: failed to register mailbox", zap.Error(err))
		}
	})
}

func validMailbox(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	_, err := mail.ParseAddress(s)
	return err == nil
}
