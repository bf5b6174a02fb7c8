package generation

import (
	"fmt"
	"regexp"
	"strings"

	"ollama-chat/models"
)

// base64Payload accepts the standard alphabet with '=' padding only at the end.
var base64Payload = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// ValidateImages checks every payload and reports the first offending index.
func ValidateImages(images []string) error {
	for i, img := range images {
		if img == "" {
			return fmt.Errorf("%w: invalid image data at index %d", models.ErrValidation, i)
		}
		if !base64Payload.MatchString(img) {
			return fmt.Errorf("%w: invalid base64 format at index %d", models.ErrValidation, i)
		}
	}
	return nil
}

// validate normalises req in place and checks the input contract.
func validate(req *Request, requireUser bool) error {
	req.Model = strings.TrimSpace(req.Model)
	req.UserName = strings.TrimSpace(req.UserName)

	if req.Model == "" || (req.Prompt == "" && len(req.Images) == 0) {
		return fmt.Errorf("%w: model and either prompt or image are required", models.ErrValidation)
	}
	if requireUser && req.UserName == "" {
		return fmt.Errorf("%w: user name is required", models.ErrValidation)
	}
	if err := ValidateImages(req.Images); err != nil {
		return err
	}
	if req.Options != nil {
		if err := req.Options.Validate(); err != nil {
			return err
		}
	}
	return nil
}
