package tool

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
)

func (r *Registry) execOnboard(ctx context.Context, args map[string]any) (contractx.ToolOutput, error) {
	profile := CustomerProfile{}
	var err error
	if profile.CompanyName, err = stringArg(args, "company_name", true); err != nil {
		return contractx.ToolOutput{}, err
	}
	if profile.Name, err = stringArg(args, "name", true); err != nil {
		return contractx.ToolOutput{}, err
	}
	if profile.Email, err = stringArg(args, "email", true); err != nil {
		return contractx.ToolOutput{}, err
	}
	if !strings.Contains(profile.Email, "@") {
		return contractx.ToolOutput{}, fmt.Errorf("%w: email %q is not an email address", contractx.ErrInvalidArguments, profile.Email)
	}
	if profile.Domain, err = stringArg(args, "domain", false); err != nil {
		return contractx.ToolOutput{}, err
	}
	if profile.Phone, err = stringArg(args, "phone", false); err != nil {
		return contractx.ToolOutput{}, err
	}
	if profile.RequestDate, err = stringArg(args, "request_date", false); err != nil {
		return contractx.ToolOutput{}, err
	}
	if profile.RequestSummary, err = stringArg(args, "request_summary", false); err != nil {
		return contractx.ToolOutput{}, err
	}

	record, err := r.backend.OnboardCustomer(ctx, profile)
	if err != nil {
		return contractx.ToolOutput{}, fmt.Errorf("%w: onboard customer: %v", contractx.ErrExternalService, err)
	}

	return contractx.ToolOutput{
		Content: record,
		Flags: map[string]any{
			contractx.FlagOnboarded: true,
		},
		Identifiers: map[string]string{
			contractx.IdentCustomerID: record.CustomerID,
		},
	}, nil
}
