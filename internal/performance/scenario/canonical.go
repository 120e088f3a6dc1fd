package scenario

import "net/http"

// Canonical returns the reference user-counter workload: create a counter,
// increment it, read it back and delete it. Only the create step is
// load-bearing; the other three need the id it extracts.
func Canonical(baseURL string) *Scenario {
	return &Scenario{
		Name: "user-counter",
		Variables: map[string]string{
			"baseUrl": baseURL,
		},
		Steps: []*Step{
			{
				Name:        "create",
				Method:      http.MethodPost,
				URL:         "{{baseUrl}}/api/v1/users",
				Headers:     map[string]string{"Content-Type": "application/json"},
				Body:        `{"username":"user-{{uniqueId}}"}`,
				LoadBearing: true,
				Checks: []CheckSpec{
					{Name: "create user counter status is 201", Type: CheckStatus, Value: "201"},
				},
				Extract: []ExtractSpec{
					{Name: "id", Source: "body", Path: "data.id"},
				},
			},
			{
				Name:   "increment",
				Method: http.MethodPut,
				URL:    "{{baseUrl}}/api/v1/users/{{id}}/increment",
				Checks: []CheckSpec{
					{Name: "increase user counter status is 200", Type: CheckStatus, Value: "200"},
				},
			},
			{
				Name:   "count",
				Method: http.MethodGet,
				URL:    "{{baseUrl}}/api/v1/users/{{id}}/count",
				Checks: []CheckSpec{
					{Name: "get user counter status is 200", Type: CheckStatus, Value: "200"},
				},
			},
			{
				Name:   "delete",
				Method: http.MethodDelete,
				URL:    "{{baseUrl}}/api/v1/users/{{id}}",
				Checks: []CheckSpec{
					{Name: "delete user counter status is 200", Type: CheckStatus, Value: "200"},
				},
			},
		},
	}
}
