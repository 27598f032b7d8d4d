package rest

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/kasuganosora/moodring/server/model"
	"github.com/kasuganosora/moodring/server/participant"
)

// RegisterValidators adds the custom binding tags used by request bodies:
// "username", "emotion" and "situation".
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return registerTags(v)
}

func registerTags(v *validator.Validate) error {
	if err := participant.RegisterValidation(v); err != nil {
		return err
	}
	if err := v.RegisterValidation("emotion", func(fl validator.FieldLevel) bool {
		return model.EmotionalState(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("situation", func(fl validator.FieldLevel) bool {
		return model.SocialSituation(fl.Field().String()).Valid()
	})
}
