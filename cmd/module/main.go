package main

import (
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"
	scara "scara_arm"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: generic.API, Model: scara.CleanerModel},
		resource.APIModel{API: gripper.API, Model: scara.GripperModel},
		resource.APIModel{API: discovery.API, Model: scara.DiscoveryModel},
	)
}
