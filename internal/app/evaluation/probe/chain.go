package probe

import (
	"context"

	"geolink.local/internal/app/evaluation"
)

// Chain 依次执行，遇到非 healthy 的结论或 error 立即返回；全部 healthy 时返回最后一个结论。
func Chain(checkers ...evaluation.Checker) evaluation.Checker {
	return evaluation.CheckerFunc(func(ctx context.Context, destinationURL string) (evaluation.Verdict, error) {
		var last evaluation.Verdict
		for _, c := range checkers {
			v, err := c.Check(ctx, destinationURL)
			if err != nil {
				return evaluation.Verdict{}, err
			}
			if v.Classification != evaluation.Healthy {
				return v, nil
			}
			last = v
		}
		if last.Classification == "" {
			last.Classification = evaluation.Healthy
		}
		return last, nil
	})
}
