package fields

import (
	"errors"
	"testing"

	"github.com/avolkov/signdesk/internal/common"
	"github.com/avolkov/signdesk/internal/server/models"
)

func field(id string, typ models.FieldType) *models.SignatureField {
	return &models.SignatureField{ID: id, RecipientID: "r1", Type: typ, Page: 1}
}

func TestValidate_AllValuesPresent(t *testing.T) {
	flds := []*models.SignatureField{
		field("f1", models.FieldText),
		field("f2", models.FieldDate),
		field("f3", models.FieldCheckbox),
		field("f4", models.FieldSignature),
	}
	sub := &models.Submission{FieldValues: map[string]string{
		"f1": "Acme Corp",
		"f2": "2024-01-01",
		"f3": "true",
		"f4": "data:image/png;base64,iVBOR",
	}}

	if err := Validate(flds, sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingTextValue(t *testing.T) {
	flds := []*models.SignatureField{field("f1", models.FieldText)}
	sub := &models.Submission{FieldValues: map[string]string{}}

	err := Validate(flds, sub)
	if !errors.Is(err, common.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}

	var ve *common.ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected *common.ValidationError")
	}
	if len(ve.FieldIDs) != 1 || ve.FieldIDs[0] != "f1" {
		t.Errorf("unexpected field ids: %v", ve.FieldIDs)
	}
}

func TestValidate_CheckboxMustBeBool(t *testing.T) {
	flds := []*models.SignatureField{field("f1", models.FieldCheckbox)}

	sub := &models.Submission{FieldValues: map[string]string{"f1": "yes"}}
	if err := Validate(flds, sub); !errors.Is(err, common.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed for non-bool checkbox, got %v", err)
	}

	// An omitted checkbox is not required.
	sub = &models.Submission{FieldValues: map[string]string{}}
	if err := Validate(flds, sub); err != nil {
		t.Fatalf("omitted checkbox should pass, got %v", err)
	}
}

func TestValidate_BlankSignatureFilledByCapturedImage(t *testing.T) {
	flds := []*models.SignatureField{
		field("f1", models.FieldSignature),
		field("f2", models.FieldInitial),
	}

	sub := &models.Submission{FieldValues: map[string]string{}, SignatureImage: "data:image/png;base64,iVBOR"}
	if err := Validate(flds, sub); err != nil {
		t.Fatalf("captured image should satisfy blank signature fields, got %v", err)
	}

	sub = &models.Submission{FieldValues: map[string]string{}}
	err := Validate(flds, sub)
	var ve *common.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error without captured image, got %v", err)
	}
	if len(ve.FieldIDs) != 2 {
		t.Errorf("expected both signature fields flagged, got %v", ve.FieldIDs)
	}
}

func TestValidate_EmptyExplicitSignatureValue(t *testing.T) {
	flds := []*models.SignatureField{field("f1", models.FieldSignature)}
	sub := &models.Submission{FieldValues: map[string]string{"f1": ""}, SignatureImage: "img"}

	// An explicitly empty image payload is malformed even if a captured
	// image exists.
	if err := Validate(flds, sub); !errors.Is(err, common.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestValidate_FieldIDsSorted(t *testing.T) {
	flds := []*models.SignatureField{
		field("zz", models.FieldText),
		field("aa", models.FieldText),
	}
	sub := &models.Submission{FieldValues: map[string]string{}}

	var ve *common.ValidationError
	if !errors.As(Validate(flds, sub), &ve) {
		t.Fatal("expected validation error")
	}
	if ve.FieldIDs[0] != "aa" || ve.FieldIDs[1] != "zz" {
		t.Errorf("field ids not sorted: %v", ve.FieldIDs)
	}
}
