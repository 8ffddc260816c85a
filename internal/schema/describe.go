package schema

import (
	"fmt"

	"github.com/fullstorydev/grpcurl"

	apperrors "github.com/shhac/grpcsim/internal/errors"
)

// Template returns a JSON value with every request field of the method
// populated by an example value, for use as a starting payload.
func (c *Catalog) Template(fqmn string) (any, error) {
	entry, err := c.Lookup(fqmn)
	if err != nil {
		return nil, err
	}

	norm := c.norm
	norm.OmitDefaults = false
	tmpl := grpcurl.MakeTemplate(entry.Desc.GetInputType())
	return decodeMessage(tmpl, norm.marshaler())
}

// Describe returns the protobuf source of the service that declares the
// method.
func (c *Catalog) Describe(fqmn string) (string, error) {
	entry, err := c.Lookup(fqmn)
	if err != nil {
		return "", err
	}

	txt, err := grpcurl.GetDescriptorText(entry.Desc.GetService(), nil)
	if err != nil {
		return "", &apperrors.Failure{
			Kind:    apperrors.KindSchemaLoad,
			Message: fmt.Sprintf("describe %s: %v", entry.Name.ServiceFullName(), err),
			Err:     err,
		}
	}
	return txt, nil
}
