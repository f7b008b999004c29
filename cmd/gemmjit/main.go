package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"runtime"
	"strconv"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/gemmjit/gemm"
	"github.com/slowlang/gemmjit/refgemm"
)

func main() {
	dumpCmd := &cli.Command{
		Name:        "dump",
		Description: "generate a kernel and hex-dump its machine code: dump max_rows nc_rem kc_elems",
		Action:      dumpAct,
		Args:        cli.Args{},
	}

	verifyCmd := &cli.Command{
		Name:        "verify",
		Description: "generate, run and compare against the scalar reference (arm64): verify mr nc kc_elems",
		Action:      verifyAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "gemmjit",
		Description: "gemmjit is a tool for inspecting runtime-generated gemm kernels",
		Commands: []*cli.Command{
			dumpCmd,
			verifyCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func dumpAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	maxRows, ncRem, kcElems, err := shapeArgs(c.Args)
	if err != nil {
		return err
	}

	k, err := gemm.Build(ctx, maxRows, ncRem, kcElems*4, gemm.Unbounded())
	if err != nil {
		return errors.Wrap(err, "build kernel")
	}
	defer k.Release()

	code := k.Code()

	for off := 0; off < len(code); off += 16 {
		fmt.Printf("%6x:", off)

		for w := off; w < off+16 && w+4 <= len(code); w += 4 {
			fmt.Printf(" %02x%02x%02x%02x", code[w+3], code[w+2], code[w+1], code[w])
		}

		fmt.Printf("\n")
	}

	return nil
}

func verifyAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if runtime.GOARCH != "arm64" {
		return errors.New("verify runs generated code, it needs arm64 (have %v)", runtime.GOARCH)
	}

	mr, nc, kc, err := shapeArgs(c.Args)
	if err != nil {
		return err
	}

	p := gemm.Unbounded()

	kern, err := gemm.Build(ctx, mr, gemm.NCRemAny, kc*4, p)
	if err != nil {
		return errors.Wrap(err, "build kernel")
	}
	defer kern.Release()

	rnd := rand.New(rand.NewSource(1))

	a := randSlice(rnd, mr*kc)
	w := randSlice(rnd, kc*nc)
	bias := randSlice(rnd, nc)

	packed := refgemm.PackWeights(kc, nc, w, nc, bias)

	got := make([]float32, mr*nc)
	want := make([]float32, mr*nc)

	refgemm.Gemm(mr, nc, kc, a, kc, w, nc, bias, want, nc, refgemm.NoClamp())

	err = kern.Call(mr, nc, kc*4, a, kc*4, packed, got, nc*4, refgemm.TileCols*4, p.NumericParams())
	if err != nil {
		return errors.Wrap(err, "call kernel")
	}

	var worst float64

	for i := range got {
		d := math.Abs(float64(got[i] - want[i]))
		if d > worst {
			worst = d
		}
	}

	fmt.Printf("%d x %d x %d: max abs error %g\n", mr, nc, kc, worst)

	return nil
}

func shapeArgs(args []string) (x, y, z int, err error) {
	if len(args) != 3 {
		return 0, 0, 0, errors.New("three shape arguments expected, got %v", len(args))
	}

	v := []*int{&x, &y, &z}

	for i, arg := range args {
		*v[i], err = strconv.Atoi(arg)
		if err != nil {
			return 0, 0, 0, errors.Wrap(err, "argument %v", arg)
		}
	}

	return x, y, z, nil
}

func randSlice(rnd *rand.Rand, n int) []float32 {
	s := make([]float32, n)

	for i := range s {
		s[i] = rnd.Float32()*2 - 1
	}

	return s
}
