package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/golang/glog"
)

const (
	memProfileRate = 4096
	dumpTimeFormat = "20060102_150405"
)

// profiler is one SIGUSR2-toggled profiling session writing into dir.
type profiler struct {
	dir   string
	stops []func()
}

// lookupProfile starts a runtime/pprof profile that is written on stop.
// enable and disable adjust the sampling rate around the session.
func (p *profiler) lookupProfile(name string, enable, disable func()) {
	f, err := p.create(name, "pprof")
	if err != nil {
		glog.Errorf("pprof: %s profile: %v", name, err)
		return
	}
	if enable != nil {
		enable()
	}
	glog.Infof("pprof: %s profiling enabled, %s", name, f.Name())
	p.stops = append(p.stops, func() {
		if prof := pprof.Lookup(name); prof != nil {
			if err := prof.WriteTo(f, 0); err != nil {
				glog.Errorf("pprof: write %s profile: %v", name, err)
			}
		}
		_ = f.Close()
		if disable != nil {
			disable()
		}
		glog.Infof("pprof: %s profiling disabled, %s", name, f.Name())
	})
}

func (p *profiler) cpuProfile() {
	f, err := p.create("cpu", "pprof")
	if err != nil {
		glog.Errorf("pprof: cpu profile: %v", err)
		return
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		glog.Errorf("pprof: start cpu profile: %v", err)
		_ = f.Close()
		return
	}
	p.stops = append(p.stops, func() {
		pprof.StopCPUProfile()
		_ = f.Close()
		glog.Infof("pprof: cpu profiling disabled, %s", f.Name())
	})
}

func (p *profiler) traceProfile() {
	f, err := p.create("trace", "out")
	if err != nil {
		glog.Errorf("pprof: trace: %v", err)
		return
	}
	if err := trace.Start(f); err != nil {
		glog.Errorf("pprof: start trace: %v", err)
		_ = f.Close()
		return
	}
	p.stops = append(p.stops, func() {
		trace.Stop()
		_ = f.Close()
		glog.Infof("pprof: trace disabled, %s", f.Name())
	})
}

func startProfiler(dir string) *profiler {
	p := &profiler{dir: dir}
	p.cpuProfile()

	oldRate := runtime.MemProfileRate
	p.lookupProfile("heap",
		func() { runtime.MemProfileRate = memProfileRate },
		func() { runtime.MemProfileRate = oldRate })
	p.lookupProfile("mutex",
		func() { runtime.SetMutexProfileFraction(1) },
		func() { runtime.SetMutexProfileFraction(0) })
	p.lookupProfile("block",
		func() { runtime.SetBlockProfileRate(1) },
		func() { runtime.SetBlockProfileRate(0) })
	p.traceProfile()
	return p
}

// stop flushes the profiles in reverse start order.
func (p *profiler) stop() {
	for i := len(p.stops) - 1; i >= 0; i-- {
		p.stops[i]()
	}
	p.stops = nil
}

func (p *profiler) create(kind, ext string) (*os.File, error) {
	return os.Create(filepath.Join(p.dir, fmt.Sprintf("%s-%s.%s", kind, time.Now().Format(dumpTimeFormat), ext)))
}

// dumpGoroutines writes the stacks of all goroutines into dir.
func dumpGoroutines(dir string) {
	name := filepath.Join(dir, fmt.Sprintf("goroutines-%s.dump", time.Now().Format(dumpTimeFormat)))
	f, err := os.Create(name)
	if err != nil {
		glog.Errorf("pprof: dump goroutines: %v", err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		glog.Errorf("pprof: write %s: %v", name, err)
		return
	}
	glog.Infof("pprof: goroutines dumped to %s", name)
}
