// Command wlcdemo is a minimal embedder: it links against wlc, fills in a
// handful of Callbacks that place every new view as a fixed-size tile left
// to right on its output and log output/view lifecycle, and drives Run until
// terminated.
//
// Grounded on bnema-waymon's cobra root command + viper config-file layer
// (github.com/spf13/cobra, github.com/spf13/viper) as the shape of "a small
// Wayland-adjacent CLI that layers flags over a config file" — wlcdemo
// itself is new, but the cobra/viper wiring follows that repo's pattern.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	wlc "github.com/Cloudef/go-wlc"
	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
	"github.com/Cloudef/go-wlc/seat"
	"github.com/Cloudef/go-wlc/view"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wlcdemo",
		Short: "A minimal go-wlc embedder that tiles views left to right",
		RunE:  runDemo,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/wlcdemo.yaml)")
	root.Flags().Bool("xwayland", true, "start Xwayland for X11 client support")
	root.Flags().Int("idle-time", 300, "seconds of inactivity before outputs sleep")
	viper.BindPFlag("xwayland", root.Flags().Lookup("xwayland"))
	viper.BindPFlag("idle_time", root.Flags().Lookup("idle-time"))
	cobra.OnInitialize(initConfig)
	return root
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("wlcdemo")
		viper.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(dir)
		}
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("WLCDEMO")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // absence is not fatal: flags/env/defaults still apply
}

// runDemo wires a Callbacks set that: places every new view as a
// demoTileWidth x demoTileHeight tile, left to right from its output's
// origin, and logs output/view creation and destruction through wlc.Logger.
// It does not quit when outputs disappear; Run returns on Terminate.
func runDemo(cmd *cobra.Command, args []string) error {
	if !viper.GetBool("xwayland") {
		os.Setenv("WLC_XWAYLAND", "0")
	}
	if n := viper.GetInt("idle_time"); n > 0 {
		os.Setenv("WLC_IDLE_TIME", fmt.Sprint(n))
	}

	d := &demo{nextX: make(map[registry.ID]int32)}

	cb := wlc.Callbacks{}
	cb.CompositorReady = func() { wlc.Logger.Info("compositor ready") }
	cb.Output.Created = func(h registry.ID) bool {
		wlc.Logger.Info("output created", "output", h)
		return true
	}
	cb.Output.Destroyed = func(h registry.ID) {
		wlc.Logger.Info("output destroyed", "output", h)
	}
	cb.View.Created = func(h registry.ID) bool {
		d.placeView(h)
		return true
	}
	cb.View.Destroyed = func(h registry.ID) {
		wlc.Logger.Info("view destroyed", "view", h)
	}
	cb.Keyboard = func(v registry.ID, t uint32, mods seat.Modifiers, key, sym uint32, state seat.KeyState) bool {
		return false
	}

	ctx, err := wlc.Init(cb)
	if err != nil {
		return fmt.Errorf("wlcdemo: init: %w", err)
	}
	defer ctx.Close()

	d.ctx = ctx
	return ctx.Run()
}

// demo holds the tiny bit of placement state this embedder keeps: the next
// free x offset to place a newly-mapped view at, per output.
type demo struct {
	ctx   *wlc.Context
	nextX map[registry.ID]int32
}

const demoTileWidth = 640
const demoTileHeight = 480

func (d *demo) placeView(h registry.ID) {
	v := d.ctx.View(h)
	if v == nil {
		return
	}
	x := d.nextX[v.Output]
	v.SetGeometry(view.Geometry{
		Origin: geom.Point{X: x, Y: 0},
		Size:   geom.Size{W: demoTileWidth, H: demoTileHeight},
	})
	d.nextX[v.Output] = x + demoTileWidth
	wlc.Logger.Info("view placed", "view", h, "x", x)
}
