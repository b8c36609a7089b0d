// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

func main() {
	Execute()
}
