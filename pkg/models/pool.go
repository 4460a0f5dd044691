// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import (
	"gopkg.in/typ.v4/sync2"
)

// Pool reusable objects to reduce garbage collector
type Pool struct {
	Skills *sync2.Pool[[]float64]
}

func NewPool() *Pool {
	return &Pool{
		Skills: &sync2.Pool[[]float64]{
			New: func() []float64 {
				return make([]float64, 0, 8)
			},
		},
	}
}
