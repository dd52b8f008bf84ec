package pcddef_test

import "github.com/fmpcd/fmpcd/core/testenv"

var makeAR = testenv.MakeAR
