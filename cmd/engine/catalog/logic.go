package catalog

import (
	"github.com/telflow/telflow/cmd/engine/schema"
)

func logicEntries() []*Entry {
	return []*Entry{
		{
			Type:                  TypeCondition,
			Category:              CategoryLogic,
			Name:                  "Condition",
			Description:           "Routes to the true or false branch based on an expression.",
			InputHandles:          inputIn(),
			OutputHandles:         outputs(HandleTrue, HandleFalse),
			AllowsMultipleOutputs: true,
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"expression": {Schema: schema.String{MinLen: 1}, Required: true},
				"language":   {Schema: schema.String{Enum: []string{"template", "cel"}}, Default: "template"},
			}},
		},
		{
			Type:                  TypeSwitch,
			Category:              CategoryLogic,
			Name:                  "Switch",
			Description:           "Routes to the output matching the rendered value, or default.",
			InputHandles:          inputIn(),
			OutputHandles:         outputs(HandleDefault),
			AllowsMultipleOutputs: true,
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"value": {Schema: schema.String{MinLen: 1}, Required: true},
				"cases": {
					Schema: schema.Array{
						MinLen: 1,
						Elem: schema.Object{Fields: map[string]schema.Field{
							"value": {Schema: schema.String{}, Required: true},
							"label": {Schema: schema.String{}},
						}},
					},
					Required: true,
				},
			}},
		},
		{
			Type:          TypeDelay,
			Category:      CategoryLogic,
			Name:          "Delay",
			Description:   "Passes its input through after a pause.",
			InputHandles:  inputIn(),
			OutputHandles: outputs(HandleSuccess),
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"duration_ms": {Schema: schema.Min(1), Required: true},
			}},
		},
		{
			Type:                  TypeRetry,
			Category:              CategoryLogic,
			Name:                  "Retry",
			Description:           "Applies a retry policy to its segment; routes to max_retries when exhausted.",
			InputHandles:          inputIn(),
			OutputHandles:         outputs(HandleSuccess, HandleMaxRetries),
			AllowsMultipleOutputs: true,
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"max_attempts":       {Schema: schema.MinMax(1, 10), Default: float64(3)},
				"initial_delay_ms":   {Schema: schema.Min(1), Default: float64(1000)},
				"max_delay_ms":       {Schema: schema.Min(1), Default: float64(30000)},
				"backoff_multiplier": {Schema: schema.Min(1), Default: float64(2)},
				"retryable_errors":   {Schema: schema.Array{Elem: schema.String{}}},
			}},
		},
		{
			Type:          TypeRateLimit,
			Category:      CategoryLogic,
			Name:          "Rate Limit",
			Description:   "Rejects traffic above a keyed request budget.",
			InputHandles:  inputIn(),
			OutputHandles: outputs(HandleSuccess, HandleError),
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"max_requests": {Schema: schema.Min(1), Required: true},
				"window_ms":    {Schema: schema.Min(1), Required: true},
				"strategy":     {Schema: schema.String{Enum: []string{"fixed", "sliding"}}, Default: "fixed"},
				"key":          {Schema: schema.String{}},
			}},
		},
		{
			Type:                 TypeMerge,
			Category:             CategoryLogic,
			Name:                 "Merge",
			Description:          "Joins multiple branches into one output.",
			InputHandles:         inputIn(),
			OutputHandles:        outputs(HandleSuccess),
			AllowsMultipleInputs: true,
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"strategy": {Schema: schema.String{Enum: []string{"first", "last", "all", "merge"}}, Default: "merge"},
			}},
		},
	}
}

func stateEntries() []*Entry {
	return []*Entry{
		{
			Type:            TypeSessionRead,
			Category:        CategoryState,
			Name:            "Session Read",
			Description:     "Projects keys from the session data into the output.",
			RequiresSession: true,
			InputHandles:    inputIn(),
			OutputHandles:   outputs(HandleSuccess, HandleError),
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"keys": {Schema: schema.Array{Elem: schema.String{}}},
			}},
		},
		{
			Type:            TypeSessionWrite,
			Category:        CategoryState,
			Name:            "Session Write",
			Description:     "Writes templated values into the session data.",
			RequiresSession: true,
			InputHandles:    inputIn(),
			OutputHandles:   outputs(HandleSuccess, HandleError),
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"data":  {Schema: schema.Map{Values: schema.String{}}, Required: true},
				"merge": {Schema: schema.Bool{}, Default: true},
			}},
		},
		{
			Type:            TypeSessionEnd,
			Category:        CategoryState,
			Name:            "Session End",
			Description:     "Ends the session; no nodes run after it.",
			RequiresSession: true,
			EndsSession:     true,
			InputHandles:    inputIn(),
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"message": {Schema: schema.String{}},
			}},
		},
	}
}
