package providers

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/fiscalsync/internal/providers/einvoice"
	"github.com/smallbiznis/fiscalsync/internal/providers/email"
	"github.com/smallbiznis/fiscalsync/internal/providers/pdf"
	"github.com/smallbiznis/fiscalsync/internal/providers/stripe"
)

var Module = fx.Module("providers",
	einvoice.Module,
	email.Module,
	pdf.Module,
	stripe.Module,
)
