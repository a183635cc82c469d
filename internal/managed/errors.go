package managed

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/smithy-go"

	"github.com/cloo-solutions/clauseqa/internal/domain"
)

// classifyError maps Bedrock failures onto backend error kinds. Access and
// lookup failures are configuration problems; throttling and server faults are transient.
func classifyError(err error) error {
	var (
		accessDenied *types.AccessDeniedException
		notFound     *types.ResourceNotFoundException
		validation   *types.ValidationException
		throttled    *types.ThrottlingException
		quota        *types.ServiceQuotaExceededException
		internal     *types.InternalServerException
	)

	switch {
	case errors.As(err, &accessDenied):
		return domain.NewBackendError(backendName, domain.KindAccessDenied, err)
	case errors.As(err, &notFound):
		return domain.NewBackendError(backendName, domain.KindNotFound, err)
	case errors.As(err, &validation):
		return domain.NewBackendError(backendName, domain.KindInvalidInput, err)
	case errors.As(err, &throttled), errors.As(err, &quota):
		return domain.NewBackendError(backendName, domain.KindRateLimited, err)
	case errors.As(err, &internal):
		return domain.NewBackendError(backendName, domain.KindTransport, err)
	case errors.Is(err, context.Canceled):
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
			return domain.NewBackendError(backendName, domain.KindAccessDenied, err)
		case "ResourceNotFoundException":
			return domain.NewBackendError(backendName, domain.KindNotFound, err)
		case "ThrottlingException", "TooManyRequestsException":
			return domain.NewBackendError(backendName, domain.KindRateLimited, err)
		}
	}
	return domain.NewBackendError(backendName, domain.KindTransport, err)
}
